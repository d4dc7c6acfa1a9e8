package file

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/abduss/storage-emulator/internal/auth"
	"github.com/abduss/storage-emulator/internal/logger"
	"github.com/abduss/storage-emulator/internal/metadata"
	"github.com/abduss/storage-emulator/internal/upload"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultMaxResults = 1000

	headerUploadProtocol = "X-Goog-Upload-Protocol"
	headerUploadCommand  = "X-Goog-Upload-Command"
	headerUploadOffset   = "X-Goog-Upload-Offset"
	headerUploadURL      = "X-Goog-Upload-URL"
	headerUploadStatus   = "X-Goog-Upload-Status"
	headerUploadReceived = "X-Goog-Upload-Size-Received"
	headerUploadLength   = "X-Goog-Upload-Header-Content-Length"
	headerUploadType     = "X-Goog-Upload-Header-Content-Type"
)

// RegisterRoutes mounts the Firebase Storage v0 API under the provided router
// group.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.GET("/b/:bucket/o", handler.listObjects)
	group.POST("/b/:bucket/o", handler.uploadObject)
	group.GET("/b/:bucket/o/*object", handler.getObject)
	group.PATCH("/b/:bucket/o/*object", handler.updateMetadata)
	group.POST("/b/:bucket/o/*object", handler.manageTokens)
	group.DELETE("/b/:bucket/o/*object", handler.deleteObject)
}

type httpHandler struct {
	service *Service
}

type listResponse struct {
	Prefixes      []string   `json:"prefixes"`
	Items         []listItem `json:"items"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
}

type listItem struct {
	Name   string `json:"name"`
	Bucket string `json:"bucket"`
}

func (h *httpHandler) listObjects(c *gin.Context) {
	bucket := c.Param("bucket")
	prefix := c.Query("prefix")
	delimiter := c.Query("delimiter")

	maxResults := defaultMaxResults
	if raw := c.Query("maxResults"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, fmt.Errorf("%w: maxResults must be a positive integer", ErrValidation))
			return
		}
		maxResults = min(parsed, defaultMaxResults)
	}

	startAfter, err := decodePageToken(c.Query("pageToken"))
	if err != nil {
		writeError(c, err)
		return
	}

	iter, err := h.service.HandleListObjects(c.Request.Context(), ListObjectsRequest{
		Bucket:     bucket,
		Prefix:     prefix,
		StartAfter: startAfter,
		Auth:       auth.Current(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	defer iter.Close()

	resp := listResponse{Prefixes: []string{}, Items: []listItem{}}
	var (
		last          string
		currentPrefix string
		more          bool
	)
	for iter.Next() {
		name := iter.Key().Name
		if currentPrefix != "" && strings.HasPrefix(name, currentPrefix) {
			last = name
			continue
		}
		if len(resp.Items)+len(resp.Prefixes) == maxResults {
			more = true
			break
		}

		rest := strings.TrimPrefix(name, prefix)
		if idx := strings.Index(rest, delimiter); delimiter != "" && idx >= 0 {
			currentPrefix = prefix + rest[:idx+len(delimiter)]
			resp.Prefixes = append(resp.Prefixes, currentPrefix)
		} else {
			currentPrefix = ""
			resp.Items = append(resp.Items, listItem{Name: name, Bucket: bucket})
		}
		last = name
	}
	if err := iter.Err(); err != nil {
		writeError(c, translate(err))
		return
	}

	if more {
		resp.NextPageToken = base64.RawURLEncoding.EncodeToString([]byte(last))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *httpHandler) getObject(c *gin.Context) {
	generation, err := parseGeneration(c.Query("generation"))
	if err != nil {
		writeError(c, err)
		return
	}

	req := GetObjectRequest{
		Bucket:        c.Param("bucket"),
		Object:        objectParam(c),
		Generation:    generation,
		Auth:          auth.Current(c),
		DownloadToken: c.Query("token"),
	}

	if c.Query("alt") != "media" {
		obj, err := h.service.HandleGetMetadata(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, metadata.ToOutgoing(obj))
		return
	}

	obj, content, err := h.service.HandleGetObject(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("ETag", obj.ETag())
	c.Header("X-Goog-Generation", strconv.FormatInt(obj.Generation, 10))
	c.Header("X-Goog-Metageneration", strconv.FormatInt(obj.Metageneration, 10))
	if obj.ContentDisposition != "" {
		c.Header("Content-Disposition", obj.ContentDisposition)
	}
	if obj.ContentEncoding != "" {
		c.Header("Content-Encoding", obj.ContentEncoding)
	}
	if obj.ContentLanguage != "" {
		c.Header("Content-Language", obj.ContentLanguage)
	}
	if obj.CacheControl != "" {
		c.Header("Cache-Control", obj.CacheControl)
	}
	c.Data(http.StatusOK, obj.ContentType, content)
}

func (h *httpHandler) uploadObject(c *gin.Context) {
	if id := c.Query("upload_id"); id != "" {
		h.continueResumable(c, id)
		return
	}

	bucket := c.Param("bucket")
	name := c.Query("name")
	if name == "" {
		writeError(c, fmt.Errorf("%w: name query parameter is required", ErrValidation))
		return
	}

	switch strings.ToLower(c.GetHeader(headerUploadProtocol)) {
	case "resumable":
		h.startResumable(c, bucket, name)
	case "multipart":
		metadataRaw, content, err := readMultipartRelated(c.Request)
		if err != nil {
			writeError(c, err)
			return
		}
		h.commitMultipart(c, bucket, name, metadataRaw, content)
	default:
		content, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, bodyError(err))
			return
		}
		metadataRaw := withDefaultContentType(nil, c.GetHeader("Content-Type"))
		h.commitMultipart(c, bucket, name, metadataRaw, content)
	}
}

func (h *httpHandler) commitMultipart(c *gin.Context, bucket, name string, metadataRaw, content []byte) {
	up, err := h.service.StartMultipartUpload(bucket, name, metadataRaw, content)
	if err != nil {
		writeError(c, err)
		return
	}

	obj, err := h.service.HandleUploadObject(c.Request.Context(), up, auth.Current(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, metadata.ToOutgoing(obj))
}

func (h *httpHandler) startResumable(c *gin.Context, bucket, name string) {
	if cmd := uploadCommands(c); !cmd["start"] {
		writeError(c, fmt.Errorf("%w: resumable uploads begin with the start command", ErrValidation))
		return
	}

	metadataRaw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, bodyError(err))
		return
	}
	metadataRaw = withDefaultContentType(metadataRaw, c.GetHeader(headerUploadType))

	expected := int64(-1)
	if raw := c.GetHeader(headerUploadLength); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(c, fmt.Errorf("%w: invalid %s", ErrValidation, headerUploadLength))
			return
		}
		expected = parsed
	}

	up := h.service.StartResumableUpload(bucket, name, metadataRaw, expected)

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	uploadURL := fmt.Sprintf("%s://%s/v0/b/%s/o?name=%s&upload_id=%s",
		scheme, c.Request.Host, url.PathEscape(bucket), url.QueryEscape(name), url.QueryEscape(up.ID))

	c.Header(headerUploadURL, uploadURL)
	c.Header(headerUploadStatus, "active")
	c.JSON(http.StatusOK, gin.H{"uploadId": up.ID})
}

func (h *httpHandler) continueResumable(c *gin.Context, id string) {
	up, err := h.service.GetUpload(id)
	if err == nil && up.Bucket != c.Param("bucket") {
		err = fmt.Errorf("%w: upload %s belongs to another bucket", ErrNotFound, id)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	cmd := uploadCommands(c)
	switch {
	case cmd["query"]:
		writeUploadState(c, up)
		c.Status(http.StatusOK)
		return
	case cmd["cancel"]:
		if err := h.service.CancelUpload(id); err != nil {
			writeError(c, err)
			return
		}
		c.Header(headerUploadStatus, "cancelled")
		c.Status(http.StatusOK)
		return
	case !cmd["upload"] && !cmd["finalize"]:
		writeError(c, fmt.Errorf("%w: unsupported upload command %q", ErrValidation, c.GetHeader(headerUploadCommand)))
		return
	}

	if cmd["upload"] {
		chunk, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, bodyError(err))
			return
		}
		offset := up.Size
		if raw := c.GetHeader(headerUploadOffset); raw != "" {
			offset, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(c, fmt.Errorf("%w: invalid %s", ErrValidation, headerUploadOffset))
				return
			}
		}
		if up, err = h.service.AppendUpload(id, offset, chunk); err != nil {
			writeError(c, err)
			return
		}
	}

	if !cmd["finalize"] {
		writeUploadState(c, up)
		c.Status(http.StatusOK)
		return
	}

	// A finished session whose commit was refused can be committed again
	// with another finalize.
	if up.Status != upload.StatusFinished {
		if up, err = h.service.FinalizeUpload(id); err != nil {
			writeError(c, err)
			return
		}
	}
	obj, err := h.service.HandleUploadObject(c.Request.Context(), up, auth.Current(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header(headerUploadStatus, "final")
	c.JSON(http.StatusOK, metadata.ToOutgoing(obj))
}

func (h *httpHandler) updateMetadata(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, bodyError(err))
		return
	}
	patch, err := metadata.ParseDeclared(body)
	if err != nil {
		writeError(c, translate(err))
		return
	}

	obj, err := h.service.HandleUpdateObjectMetadata(c.Request.Context(), c.Param("bucket"), objectParam(c), patch, auth.Current(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, metadata.ToOutgoing(obj))
}

func (h *httpHandler) manageTokens(c *gin.Context) {
	bucket, object := c.Param("bucket"), objectParam(c)

	var (
		obj metadata.Object
		err error
	)
	switch {
	case c.Query("create_token") == "true":
		obj, err = h.service.HandleCreateDownloadToken(c.Request.Context(), bucket, object, auth.Current(c))
	case c.Query("delete_token") != "":
		obj, err = h.service.HandleDeleteDownloadToken(c.Request.Context(), bucket, object, c.Query("delete_token"), auth.Current(c))
	default:
		err = fmt.Errorf("%w: expected create_token or delete_token", ErrValidation)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, metadata.ToOutgoing(obj))
}

func (h *httpHandler) deleteObject(c *gin.Context) {
	if _, err := h.service.HandleDeleteObject(c.Request.Context(), c.Param("bucket"), objectParam(c), auth.Current(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
			break
		}
		logger.FromContext(c).Error("storage request failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"code":    http.StatusInternalServerError,
			"message": "internal error",
		}})
		return
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{
		"code":    status,
		"message": err.Error(),
	}})
}

func writeUploadState(c *gin.Context, up upload.Upload) {
	status := "active"
	switch up.Status {
	case upload.StatusFinished:
		status = "final"
	case upload.StatusCancelled:
		status = "cancelled"
	}
	c.Header(headerUploadStatus, status)
	c.Header(headerUploadReceived, strconv.FormatInt(up.Size, 10))
}

func uploadCommands(c *gin.Context) map[string]bool {
	commands := map[string]bool{}
	for _, cmd := range strings.Split(c.GetHeader(headerUploadCommand), ",") {
		if cmd = strings.ToLower(strings.TrimSpace(cmd)); cmd != "" {
			commands[cmd] = true
		}
	}
	return commands
}

func objectParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("object"), "/")
}

func parseGeneration(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	generation, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || generation <= 0 {
		return 0, fmt.Errorf("%w: invalid generation %q", ErrValidation, raw)
	}
	return generation, nil
}

func decodePageToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: invalid pageToken", ErrValidation)
	}
	return string(raw), nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return fmt.Errorf("%w: read request body: %w", ErrValidation, err)
}

// readMultipartRelated splits a multipart/related body into its JSON metadata
// part and its content part.
func readMultipartRelated(r *http.Request) ([]byte, []byte, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return nil, nil, fmt.Errorf("%w: multipart upload needs a multipart/related body", ErrValidation)
	}

	reader := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := reader.NextPart()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: missing metadata part: %w", ErrValidation, err)
	}
	metadataRaw, err := io.ReadAll(metaPart)
	if err != nil {
		return nil, nil, bodyError(err)
	}

	contentPart, err := reader.NextPart()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: missing content part: %w", ErrValidation, err)
	}
	content, err := io.ReadAll(contentPart)
	if err != nil {
		return nil, nil, bodyError(err)
	}

	return withDefaultContentType(metadataRaw, contentPart.Header.Get("Content-Type")), content, nil
}

// withDefaultContentType fills contentType into a JSON metadata document that
// does not declare one. Malformed documents are returned untouched so the
// metadata parser reports them.
func withDefaultContentType(raw []byte, contentType string) []byte {
	if contentType == "" {
		return raw
	}

	doc := map[string]json.RawMessage{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return raw
		}
	}
	if _, ok := doc["contentType"]; ok {
		return raw
	}

	encoded, err := json.Marshal(contentType)
	if err != nil {
		return raw
	}
	doc["contentType"] = encoded
	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}
