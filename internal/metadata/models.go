package metadata

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

const (
	// DefaultContentType is applied when the uploader does not declare one.
	DefaultContentType = "application/octet-stream"
	// DefaultStorageClass mirrors the class reported by the production service.
	DefaultStorageClass = "STANDARD"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Object describes one stored object. Values are treated as immutable: every
// mutation helper returns a modified copy. TimeCreated and Updated are held in
// UTC; New and Clone normalize them.
type Object struct {
	Name               string
	Bucket             string
	Generation         int64
	Metageneration     int64
	ContentType        string
	ContentEncoding    string
	ContentDisposition string
	ContentLanguage    string
	CacheControl       string
	StorageClass       string
	Size               int64
	MD5Hash            string
	CRC32C             string
	CustomMetadata     map[string]string
	DownloadTokens     []string
	TimeCreated        time.Time
	Updated            time.Time
}

// New builds the metadata for a freshly uploaded object from the declared
// fields and the content bytes. Generation is left at zero; persistence assigns it.
func New(bucket, name string, declared Declared, content []byte, now time.Time) Object {
	now = now.UTC()

	contentType := declared.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	custom := make(map[string]string, len(declared.CustomMetadata))
	for k, v := range declared.CustomMetadata {
		custom[k] = v
	}

	obj := Object{
		Name:               name,
		Bucket:             bucket,
		Metageneration:     1,
		ContentType:        contentType,
		ContentEncoding:    declared.ContentEncoding,
		ContentDisposition: declared.ContentDisposition,
		ContentLanguage:    declared.ContentLanguage,
		CacheControl:       declared.CacheControl,
		StorageClass:       DefaultStorageClass,
		CustomMetadata:     custom,
		DownloadTokens:     copyTokens(declared.DownloadTokens),
		TimeCreated:        now,
		Updated:            now,
	}
	return obj.WithContent(content)
}

// WithContent returns a copy whose size and checksums describe content.
func (o Object) WithContent(content []byte) Object {
	o = o.Clone()
	sum := md5.Sum(content)

	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], crc32.Checksum(content, castagnoli))

	o.Size = int64(len(content))
	o.MD5Hash = base64.StdEncoding.EncodeToString(sum[:])
	o.CRC32C = base64.StdEncoding.EncodeToString(crc[:])
	return o
}

// Clone returns a deep copy with timestamps in UTC. Nil maps and slices stay nil.
func (o Object) Clone() Object {
	o.TimeCreated = o.TimeCreated.UTC()
	o.Updated = o.Updated.UTC()
	if o.CustomMetadata != nil {
		custom := make(map[string]string, len(o.CustomMetadata))
		for k, v := range o.CustomMetadata {
			custom[k] = v
		}
		o.CustomMetadata = custom
	}
	o.DownloadTokens = copyTokens(o.DownloadTokens)
	return o
}

// ETag derives an entity tag that changes with every content or metadata revision.
func (o Object) ETag() string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s/%s/%d/%d", o.Bucket, o.Name, o.Generation, o.Metageneration)))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HasDownloadToken reports whether token is one of the object's download tokens.
func (o Object) HasDownloadToken(token string) bool {
	if token == "" {
		return false
	}
	for _, t := range o.DownloadTokens {
		if t == token {
			return true
		}
	}
	return false
}

// WithDownloadToken appends token unless it is already present.
func (o Object) WithDownloadToken(token string) Object {
	o = o.Clone()
	if !o.HasDownloadToken(token) {
		o.DownloadTokens = append(o.DownloadTokens, token)
	}
	return o
}

// WithoutDownloadToken removes token, keeping the order of the remaining ones.
func (o Object) WithoutDownloadToken(token string) Object {
	o = o.Clone()
	kept := o.DownloadTokens[:0]
	for _, t := range o.DownloadTokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	o.DownloadTokens = kept
	return o
}

// ApplyPatch merges a metadata update into a copy of o. Non-empty declared fields
// replace the stored ones; a custom metadata entry with an empty value is removed.
// Metageneration is left alone, persistence bumps it when the update is written.
func (o Object) ApplyPatch(patch Declared) Object {
	o = o.Clone()

	if patch.ContentType != "" {
		o.ContentType = patch.ContentType
	}
	if patch.ContentEncoding != "" {
		o.ContentEncoding = patch.ContentEncoding
	}
	if patch.ContentDisposition != "" {
		o.ContentDisposition = patch.ContentDisposition
	}
	if patch.ContentLanguage != "" {
		o.ContentLanguage = patch.ContentLanguage
	}
	if patch.CacheControl != "" {
		o.CacheControl = patch.CacheControl
	}

	if len(patch.CustomMetadata) > 0 && o.CustomMetadata == nil {
		o.CustomMetadata = make(map[string]string, len(patch.CustomMetadata))
	}
	for k, v := range patch.CustomMetadata {
		if v == "" {
			delete(o.CustomMetadata, k)
			continue
		}
		o.CustomMetadata[k] = v
	}

	for _, token := range patch.DownloadTokens {
		if !o.HasDownloadToken(token) {
			o.DownloadTokens = append(o.DownloadTokens, token)
		}
	}

	return o
}

func copyTokens(tokens []string) []string {
	if tokens == nil {
		return nil
	}
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}
