// Package file is the storage orchestrator. Every operation asks the
// authorization capability first, then checks existence, then acts on
// persistence or the upload session table, and finally emits an event.
package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abduss/storage-emulator/internal/events"
	"github.com/abduss/storage-emulator/internal/metadata"
	"github.com/abduss/storage-emulator/internal/metrics"
	"github.com/abduss/storage-emulator/internal/persistence"
	"github.com/abduss/storage-emulator/internal/rules"
	"github.com/abduss/storage-emulator/internal/upload"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type objectStore interface {
	Store(ctx context.Context, key persistence.Key, obj metadata.Object, content []byte) (metadata.Object, error)
	Read(ctx context.Context, key persistence.Key) (metadata.Object, []byte, error)
	ReadMetadata(ctx context.Context, key persistence.Key) (metadata.Object, error)
	UpdateMetadata(ctx context.Context, key persistence.Key, fn func(metadata.Object) (metadata.Object, error)) (metadata.Object, error)
	Delete(ctx context.Context, key persistence.Key) (metadata.Object, error)
	List(ctx context.Context, bucket string, opts persistence.ListOptions) *persistence.ListResult
}

type sessionStore interface {
	Initiate(bucket, name string, metadataRaw []byte, opts upload.InitiateOptions) upload.Upload
	Multipart(bucket, name string, metadataRaw, content []byte) (upload.Upload, error)
	Append(id string, offset int64, chunk []byte) (upload.Upload, error)
	Finalize(id string) (upload.Upload, error)
	Cancel(id string) error
	Get(id string) (upload.Upload, error)
	Claim(id string) (upload.Upload, []byte, error)
	Release(id string)
	Complete(id string)
}

type notifier interface {
	Notify(ctx context.Context, kind events.Kind, obj metadata.Object)
}

type archiver interface {
	Archive(ctx context.Context, obj metadata.Object, content []byte) error
	Fetch(ctx context.Context, bucket, name string, generation int64) (metadata.Object, []byte, error)
}

// GetObjectRequest identifies an object read.
type GetObjectRequest struct {
	Bucket string
	Object string
	// Generation selects a noncurrent generation kept by the archiver. Zero
	// means the live generation.
	Generation    int64
	Auth          *rules.AuthContext
	DownloadToken string
}

// ListObjectsRequest narrows a listing.
type ListObjectsRequest struct {
	Bucket     string
	Prefix     string
	StartAfter string
	Auth       *rules.AuthContext
}

// Option customizes a Service.
type Option func(*Service)

// WithArchiver keeps replaced and deleted generations in a.
func WithArchiver(a archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service is the only entry point callers use to reach stored objects.
type Service struct {
	validator rules.Validator
	store     objectStore
	uploads   sessionStore
	notifier  notifier
	archiver  archiver
	logger    *zap.Logger

	nowFunc  func() time.Time
	newToken func() string
}

// NewService constructs the orchestrator.
func NewService(validator rules.Validator, store objectStore, uploads sessionStore, notifier notifier, opts ...Option) *Service {
	s := &Service{
		validator: validator,
		store:     store,
		uploads:   uploads,
		notifier:  notifier,
		logger:    zap.NewNop(),
		nowFunc:   time.Now,
		newToken:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleGetObject returns the metadata and content of an object. A download
// token that matches the stored token set authorizes the read on its own.
func (s *Service) HandleGetObject(ctx context.Context, req GetObjectRequest) (metadata.Object, []byte, error) {
	obj, content, err := s.get(ctx, req, true)
	metrics.ObserveOperation("get", err)
	return obj, content, err
}

// HandleGetMetadata is HandleGetObject without the content.
func (s *Service) HandleGetMetadata(ctx context.Context, req GetObjectRequest) (metadata.Object, error) {
	obj, _, err := s.get(ctx, req, false)
	metrics.ObserveOperation("get_metadata", err)
	return obj, err
}

func (s *Service) get(ctx context.Context, req GetObjectRequest, withContent bool) (metadata.Object, []byte, error) {
	key := persistence.Key{Bucket: req.Bucket, Name: req.Object}

	if !s.tokenGrantsRead(ctx, key, req.DownloadToken) {
		if err := s.authorize(ctx, rules.Request{
			Bucket: req.Bucket,
			Path:   req.Object,
			Method: rules.MethodGet,
			Auth:   req.Auth,
		}); err != nil {
			return metadata.Object{}, nil, err
		}
	}

	if req.Generation != 0 {
		return s.getGeneration(ctx, key, req.Generation, withContent)
	}

	if !withContent {
		obj, err := s.store.ReadMetadata(ctx, key)
		if err != nil {
			return metadata.Object{}, nil, translate(err)
		}
		return obj, nil, nil
	}

	obj, content, err := s.store.Read(ctx, key)
	if err != nil {
		return metadata.Object{}, nil, translate(err)
	}
	return obj, content, nil
}

func (s *Service) getGeneration(ctx context.Context, key persistence.Key, generation int64, withContent bool) (metadata.Object, []byte, error) {
	live, content, err := s.store.Read(ctx, key)
	switch {
	case err == nil && live.Generation == generation:
		if !withContent {
			content = nil
		}
		return live, content, nil
	case err != nil && !errors.Is(err, persistence.ErrNotFound):
		return metadata.Object{}, nil, translate(err)
	}

	if s.archiver == nil {
		return metadata.Object{}, nil, fmt.Errorf("%w: %s generation %d", ErrNotFound, key, generation)
	}
	obj, content, err := s.archiver.Fetch(ctx, key.Bucket, key.Name, generation)
	if err != nil {
		return metadata.Object{}, nil, translate(err)
	}
	if !withContent {
		content = nil
	}
	return obj, content, nil
}

func (s *Service) tokenGrantsRead(ctx context.Context, key persistence.Key, token string) bool {
	if token == "" {
		return false
	}
	obj, err := s.store.ReadMetadata(ctx, key)
	if err != nil {
		return false
	}
	return obj.HasDownloadToken(token)
}

// HandleUploadObject commits a finished upload session as the new live
// generation of its object.
func (s *Service) HandleUploadObject(ctx context.Context, up upload.Upload, auth *rules.AuthContext) (metadata.Object, error) {
	obj, err := s.commit(ctx, up, auth)
	metrics.ObserveOperation("upload", err)
	return obj, err
}

func (s *Service) commit(ctx context.Context, up upload.Upload, auth *rules.AuthContext) (metadata.Object, error) {
	// Only the id of the caller's snapshot is trusted; the target and the
	// declared metadata come from the session table.
	session, err := s.uploads.Get(up.ID)
	if err != nil {
		return metadata.Object{}, translate(err)
	}
	if session.Status != upload.StatusFinished {
		return metadata.Object{}, fmt.Errorf("%w: upload %s is %s: %w", ErrValidation, session.ID, session.Status, upload.ErrNotFinished)
	}

	incoming := metadata.New(session.Bucket, session.Name, session.Declared, nil, s.nowFunc())
	incoming.Size = session.Size
	if err := s.authorize(ctx, rules.Request{
		Bucket:   session.Bucket,
		Path:     session.Name,
		Method:   rules.MethodCreate,
		Auth:     auth,
		Resource: &incoming,
	}); err != nil {
		return metadata.Object{}, err
	}

	claimed, content, err := s.uploads.Claim(session.ID)
	if err != nil {
		return metadata.Object{}, translate(err)
	}

	obj := metadata.New(claimed.Bucket, claimed.Name, claimed.Declared, content, s.nowFunc())
	if len(obj.DownloadTokens) == 0 {
		obj = obj.WithDownloadToken(s.newToken())
	}

	key := persistence.Key{Bucket: claimed.Bucket, Name: claimed.Name}
	previous, archived := s.archivePrevious(ctx, key)

	stored, err := s.store.Store(ctx, key, obj, content)
	if err != nil {
		s.uploads.Release(claimed.ID)
		return metadata.Object{}, translate(err)
	}
	s.uploads.Complete(claimed.ID)

	s.notifier.Notify(ctx, events.KindFinalized, stored)
	if archived {
		s.notifier.Notify(ctx, events.KindArchived, previous)
	}
	return stored, nil
}

// archivePrevious copies the live generation under key to the archiver, if one
// is configured. Archive failures are logged and do not block the mutation.
func (s *Service) archivePrevious(ctx context.Context, key persistence.Key) (metadata.Object, bool) {
	if s.archiver == nil {
		return metadata.Object{}, false
	}
	prev, content, err := s.store.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			s.logger.Warn("read previous generation", zap.String("key", key.String()), zap.Error(err))
		}
		return metadata.Object{}, false
	}
	return prev, s.archive(ctx, prev, content)
}

func (s *Service) archive(ctx context.Context, obj metadata.Object, content []byte) bool {
	if err := s.archiver.Archive(ctx, obj, content); err != nil {
		s.logger.Warn("archive generation",
			zap.String("bucket", obj.Bucket),
			zap.String("object", obj.Name),
			zap.Int64("generation", obj.Generation),
			zap.Error(err),
		)
		return false
	}
	return true
}

// HandleDeleteObject removes the live generation of an object.
func (s *Service) HandleDeleteObject(ctx context.Context, bucket, object string, auth *rules.AuthContext) (metadata.Object, error) {
	obj, err := s.delete(ctx, bucket, object, auth)
	metrics.ObserveOperation("delete", err)
	return obj, err
}

func (s *Service) delete(ctx context.Context, bucket, object string, auth *rules.AuthContext) (metadata.Object, error) {
	if err := s.authorize(ctx, rules.Request{
		Bucket: bucket,
		Path:   object,
		Method: rules.MethodDelete,
		Auth:   auth,
	}); err != nil {
		return metadata.Object{}, err
	}

	key := persistence.Key{Bucket: bucket, Name: object}
	var (
		current  metadata.Object
		archived bool
	)
	if s.archiver != nil {
		obj, content, err := s.store.Read(ctx, key)
		if err != nil {
			return metadata.Object{}, translate(err)
		}
		current, archived = obj, s.archive(ctx, obj, content)
	}

	deleted, err := s.store.Delete(ctx, key)
	if err != nil {
		return metadata.Object{}, translate(err)
	}

	s.notifier.Notify(ctx, events.KindDeleted, deleted)
	if archived {
		s.notifier.Notify(ctx, events.KindArchived, current)
	}
	return deleted, nil
}

// HandleListObjects returns a lazy listing of the bucket.
func (s *Service) HandleListObjects(ctx context.Context, req ListObjectsRequest) (*persistence.ListResult, error) {
	err := s.authorize(ctx, rules.Request{
		Bucket: req.Bucket,
		Path:   req.Prefix,
		Method: rules.MethodList,
		Auth:   req.Auth,
	})
	metrics.ObserveOperation("list", err)
	if err != nil {
		return nil, err
	}
	return s.store.List(ctx, req.Bucket, persistence.ListOptions{
		Prefix:     req.Prefix,
		StartAfter: req.StartAfter,
	}), nil
}

// HandleUpdateObjectMetadata merges patch into the stored metadata.
func (s *Service) HandleUpdateObjectMetadata(ctx context.Context, bucket, object string, patch metadata.Declared, auth *rules.AuthContext) (metadata.Object, error) {
	resource := metadata.Object{Bucket: bucket, Name: object}.ApplyPatch(patch)
	obj, err := s.updateMetadata(ctx, bucket, object, auth, &resource, func(o metadata.Object) (metadata.Object, error) {
		return o.ApplyPatch(patch), nil
	})
	metrics.ObserveOperation("update_metadata", err)
	return obj, err
}

// HandleCreateDownloadToken adds a freshly generated download token.
func (s *Service) HandleCreateDownloadToken(ctx context.Context, bucket, object string, auth *rules.AuthContext) (metadata.Object, error) {
	token := s.newToken()
	obj, err := s.updateMetadata(ctx, bucket, object, auth, nil, func(o metadata.Object) (metadata.Object, error) {
		return o.WithDownloadToken(token), nil
	})
	metrics.ObserveOperation("create_token", err)
	return obj, err
}

// HandleDeleteDownloadToken revokes one download token.
func (s *Service) HandleDeleteDownloadToken(ctx context.Context, bucket, object, token string, auth *rules.AuthContext) (metadata.Object, error) {
	if token == "" {
		return metadata.Object{}, fmt.Errorf("%w: empty download token", ErrValidation)
	}
	obj, err := s.updateMetadata(ctx, bucket, object, auth, nil, func(o metadata.Object) (metadata.Object, error) {
		return o.WithoutDownloadToken(token), nil
	})
	metrics.ObserveOperation("delete_token", err)
	return obj, err
}

func (s *Service) updateMetadata(ctx context.Context, bucket, object string, auth *rules.AuthContext, resource *metadata.Object, fn func(metadata.Object) (metadata.Object, error)) (metadata.Object, error) {
	if err := s.authorize(ctx, rules.Request{
		Bucket:   bucket,
		Path:     object,
		Method:   rules.MethodUpdate,
		Auth:     auth,
		Resource: resource,
	}); err != nil {
		return metadata.Object{}, err
	}

	updated, err := s.store.UpdateMetadata(ctx, persistence.Key{Bucket: bucket, Name: object}, fn)
	if err != nil {
		return metadata.Object{}, translate(err)
	}

	s.notifier.Notify(ctx, events.KindMetadataUpdated, updated)
	return updated, nil
}

// StartResumableUpload opens an upload session. Authorization happens when the
// session is committed.
func (s *Service) StartResumableUpload(bucket, object string, metadataRaw []byte, expectedSize int64) upload.Upload {
	metrics.ObserveUploadSession(string(upload.TypeResumable))
	return s.uploads.Initiate(bucket, object, metadataRaw, upload.InitiateOptions{ExpectedSize: expectedSize})
}

// StartMultipartUpload registers a single-shot upload, ready to commit.
func (s *Service) StartMultipartUpload(bucket, object string, metadataRaw, content []byte) (upload.Upload, error) {
	metrics.ObserveUploadSession(string(upload.TypeMultipart))
	up, err := s.uploads.Multipart(bucket, object, metadataRaw, content)
	return up, translate(err)
}

// AppendUpload adds a chunk at offset to a pending session.
func (s *Service) AppendUpload(id string, offset int64, chunk []byte) (upload.Upload, error) {
	up, err := s.uploads.Append(id, offset, chunk)
	return up, translate(err)
}

// FinalizeUpload marks a pending session finished.
func (s *Service) FinalizeUpload(id string) (upload.Upload, error) {
	up, err := s.uploads.Finalize(id)
	return up, translate(err)
}

// CancelUpload discards a pending session.
func (s *Service) CancelUpload(id string) error {
	return translate(s.uploads.Cancel(id))
}

// GetUpload returns the current state of a session.
func (s *Service) GetUpload(id string) (upload.Upload, error) {
	up, err := s.uploads.Get(id)
	return up, translate(err)
}

// authorize consults the validator. Evaluation errors deny the request.
func (s *Service) authorize(ctx context.Context, req rules.Request) error {
	allowed, err := s.validator.Validate(ctx, req)
	if err != nil {
		s.logger.Warn("rules evaluation failed",
			zap.String("bucket", req.Bucket),
			zap.String("path", req.Path),
			zap.String("method", string(req.Method)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s on %s/%s", ErrForbidden, req.Method, req.Bucket, req.Path)
	}
	return nil
}
