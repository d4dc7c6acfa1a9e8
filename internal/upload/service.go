package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/abduss/storage-emulator/internal/metadata"
	"github.com/google/uuid"
)

const (
	// DefaultIdleTTL is how long an open or uncommitted session survives
	// without activity.
	DefaultIdleTTL = 24 * time.Hour
	// DefaultClosedTTL is how long the tombstone of a committed or cancelled
	// session is kept so repeated commands are still answered with a conflict.
	DefaultClosedTTL = 10 * time.Minute

	sweepInterval = time.Minute
)

type session struct {
	upload    Upload
	content   []byte
	claimed   bool
	committed bool
	expiresAt time.Time
}

// Service tracks in-flight uploads in a table keyed by upload id. Every state
// transition happens under one mutex and is guarded by the current status.
// Expired sessions are swept when new ones are opened.
type Service struct {
	mu        sync.Mutex
	sessions  map[string]*session
	idleTTL   time.Duration
	closedTTL time.Duration
	lastSweep time.Time
	nowFunc   func() time.Time
	newID     func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithTTL overrides how long idle sessions and closed-session tombstones are
// kept. Non-positive values keep the defaults.
func WithTTL(idle, closed time.Duration) Option {
	return func(s *Service) {
		if idle > 0 {
			s.idleTTL = idle
		}
		if closed > 0 {
			s.closedTTL = closed
		}
	}
}

// NewService creates an empty session table.
func NewService(opts ...Option) *Service {
	s := &Service{
		sessions:  make(map[string]*session),
		idleTTL:   DefaultIdleTTL,
		closedTTL: DefaultClosedTTL,
		nowFunc:   time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate opens a pending resumable upload.
func (s *Service) Initiate(bucket, name string, metadataRaw []byte, opts InitiateOptions) Upload {
	expected := opts.ExpectedSize
	if expected < 0 {
		expected = -1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.newSession(bucket, name, TypeResumable, metadataRaw)
	sess.upload.ExpectedSize = expected
	return sess.upload
}

// Multipart registers a single-shot upload whose metadata and content arrive
// together and finalizes it immediately.
func (s *Service) Multipart(bucket, name string, metadataRaw, content []byte) (Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.newSession(bucket, name, TypeMultipart, metadataRaw)
	sess.content = append([]byte(nil), content...)
	sess.upload.Size = int64(len(content))
	sess.upload.ExpectedSize = sess.upload.Size

	return s.finalizeLocked(sess)
}

// Append adds the next chunk of a pending upload. offset must equal the number
// of bytes received so far.
func (s *Service) Append(id string, offset int64, chunk []byte) (Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(id)
	if err != nil {
		return Upload{}, err
	}
	if sess.upload.Status != StatusPending {
		return sess.upload, fmt.Errorf("append to %s session %s: %w", sess.upload.Status, id, ErrSessionClosed)
	}
	if offset != sess.upload.Size {
		return sess.upload, fmt.Errorf("chunk at offset %d, expected %d: %w", offset, sess.upload.Size, ErrChunkOutOfOrder)
	}

	next := sess.upload.Size + int64(len(chunk))
	if sess.upload.ExpectedSize >= 0 && next > sess.upload.ExpectedSize {
		return sess.upload, fmt.Errorf("chunk ends at %d beyond declared size %d: %w", next, sess.upload.ExpectedSize, ErrChunkOutOfOrder)
	}

	sess.content = append(sess.content, chunk...)
	sess.upload.Size = next
	sess.expiresAt = s.nowFunc().Add(s.idleTTL)
	return sess.upload, nil
}

// Finalize marks a pending upload finished. It is not idempotent: finalizing a
// session twice fails with ErrSessionClosed.
func (s *Service) Finalize(id string) (Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(id)
	if err != nil {
		return Upload{}, err
	}
	return s.finalizeLocked(sess)
}

// Cancel discards a pending upload.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	if sess.upload.Status != StatusPending {
		return fmt.Errorf("cancel %s session %s: %w", sess.upload.Status, id, ErrSessionClosed)
	}

	s.closeLocked(sess, StatusCancelled)
	return nil
}

// Get returns a snapshot of the session.
func (s *Service) Get(id string) (Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(id)
	if err != nil {
		return Upload{}, err
	}
	return sess.upload, nil
}

// Claim hands the content of a finished session to the caller that is about to
// persist it. A session can be claimed once; Release undoes a claim after a
// failed commit.
func (s *Service) Claim(id string) (Upload, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(id)
	if err != nil {
		return Upload{}, nil, err
	}
	if sess.upload.Status != StatusFinished {
		return sess.upload, nil, fmt.Errorf("claim %s session %s: %w", sess.upload.Status, id, ErrNotFinished)
	}
	if sess.claimed {
		return sess.upload, nil, fmt.Errorf("claim session %s: %w", id, ErrAlreadyCommitted)
	}

	sess.claimed = true
	return sess.upload, sess.content, nil
}

// Release returns a claimed session to the finished state.
func (s *Service) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.claimed = false
	}
}

// Complete turns a committed session into a tombstone: content and raw
// metadata are dropped and the record expires after the closed TTL. Until then
// a repeated commit is still detected.
func (s *Service) Complete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && sess.claimed {
		sess.committed = true
		s.closeLocked(sess, sess.upload.Status)
	}
}

// Len reports the number of sessions in the table.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were dropped. A session
// claimed by a commit in progress is never removed.
func (s *Service) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.nowFunc())
}

func (s *Service) sweepLocked(now time.Time) int {
	s.lastSweep = now
	removed := 0
	for id, sess := range s.sessions {
		if sess.claimed && !sess.committed {
			continue
		}
		if now.After(sess.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *Service) closeLocked(sess *session, status Status) {
	sess.upload.Status = status
	sess.upload.MetadataRaw = nil
	sess.content = nil
	sess.expiresAt = s.nowFunc().Add(s.closedTTL)
}

func (s *Service) newSession(bucket, name string, typ Type, metadataRaw []byte) *session {
	now := s.nowFunc()
	if now.Sub(s.lastSweep) >= sweepInterval {
		s.sweepLocked(now)
	}

	sess := &session{
		expiresAt: now.Add(s.idleTTL),
		upload: Upload{
			ID:           s.newID(),
			Bucket:       bucket,
			Name:         name,
			Type:         typ,
			Status:       StatusPending,
			MetadataRaw:  append([]byte(nil), metadataRaw...),
			ExpectedSize: -1,
			CreatedAt:    now.UTC(),
		},
	}
	s.sessions[sess.upload.ID] = sess
	return sess
}

func (s *Service) lookup(id string) (*session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("upload %q: %w", id, ErrSessionNotFound)
	}
	return sess, nil
}

func (s *Service) finalizeLocked(sess *session) (Upload, error) {
	id := sess.upload.ID
	if sess.upload.Status != StatusPending {
		return sess.upload, fmt.Errorf("finalize %s session %s: %w", sess.upload.Status, id, ErrSessionClosed)
	}
	if sess.upload.ExpectedSize >= 0 && sess.upload.Size != sess.upload.ExpectedSize {
		return sess.upload, fmt.Errorf("received %d of %d bytes: %w", sess.upload.Size, sess.upload.ExpectedSize, ErrIncompleteUpload)
	}

	declared, err := metadata.ParseDeclared(sess.upload.MetadataRaw)
	if err != nil {
		s.closeLocked(sess, StatusCancelled)
		return sess.upload, err
	}

	sess.upload.Declared = declared
	sess.upload.Status = StatusFinished
	sess.expiresAt = s.nowFunc().Add(s.idleTTL)
	return sess.upload, nil
}
