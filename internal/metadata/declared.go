package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
)

// FirebaseTokensKey is the custom metadata key Firebase SDKs use to carry
// download tokens as a comma separated list.
const FirebaseTokensKey = "firebaseStorageDownloadTokens"

// Declared holds the caller-supplied metadata of an upload or update, before
// any computed property is merged in.
type Declared struct {
	ContentType        string            `json:"contentType,omitempty"`
	ContentEncoding    string            `json:"contentEncoding,omitempty"`
	ContentDisposition string            `json:"contentDisposition,omitempty"`
	ContentLanguage    string            `json:"contentLanguage,omitempty"`
	CacheControl       string            `json:"cacheControl,omitempty"`
	CustomMetadata     map[string]string `json:"customMetadata,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	DownloadTokens     []string          `json:"downloadTokens,omitempty"`
}

// ParseDeclared decodes metadata text sent by an uploader. Blank input yields an
// empty Declared. The Firebase "metadata" map is folded into CustomMetadata and
// its download token entry is split into DownloadTokens.
func ParseDeclared(raw []byte) (Declared, error) {
	var d Declared
	if len(bytes.TrimSpace(raw)) == 0 {
		return d, nil
	}

	if err := json.Unmarshal(raw, &d); err != nil {
		return Declared{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	if err := d.normalize(); err != nil {
		return Declared{}, err
	}
	return d, nil
}

func (d *Declared) normalize() error {
	if d.ContentType != "" {
		if _, _, err := mime.ParseMediaType(d.ContentType); err != nil {
			return fmt.Errorf("%w: content type %q: %v", ErrInvalidMetadata, d.ContentType, err)
		}
	}

	if len(d.Metadata) > 0 {
		if d.CustomMetadata == nil {
			d.CustomMetadata = make(map[string]string, len(d.Metadata))
		}
		for k, v := range d.Metadata {
			if _, exists := d.CustomMetadata[k]; !exists {
				d.CustomMetadata[k] = v
			}
		}
	}
	d.Metadata = nil

	if raw, ok := d.CustomMetadata[FirebaseTokensKey]; ok {
		delete(d.CustomMetadata, FirebaseTokensKey)
		for _, token := range strings.Split(raw, ",") {
			token = strings.TrimSpace(token)
			if token == "" || containsToken(d.DownloadTokens, token) {
				continue
			}
			d.DownloadTokens = append(d.DownloadTokens, token)
		}
	}

	for _, token := range d.DownloadTokens {
		if strings.TrimSpace(token) == "" || strings.Contains(token, ",") {
			return fmt.Errorf("%w: malformed download token %q", ErrInvalidMetadata, token)
		}
	}
	return nil
}

func containsToken(tokens []string, token string) bool {
	for _, t := range tokens {
		if t == token {
			return true
		}
	}
	return false
}
