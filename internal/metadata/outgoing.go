package metadata

import (
	"strconv"
	"strings"
)

// Outgoing is the JSON shape returned to Firebase SDK clients: numbers are
// encoded as strings and download tokens are joined with commas.
type Outgoing struct {
	Name               string            `json:"name"`
	Bucket             string            `json:"bucket"`
	Generation         string            `json:"generation"`
	Metageneration     string            `json:"metageneration"`
	ContentType        string            `json:"contentType"`
	TimeCreated        string            `json:"timeCreated"`
	Updated            string            `json:"updated"`
	StorageClass       string            `json:"storageClass"`
	Size               string            `json:"size"`
	MD5Hash            string            `json:"md5Hash"`
	CRC32C             string            `json:"crc32c"`
	Etag               string            `json:"etag"`
	ContentEncoding    string            `json:"contentEncoding"`
	ContentDisposition string            `json:"contentDisposition"`
	ContentLanguage    string            `json:"contentLanguage,omitempty"`
	CacheControl       string            `json:"cacheControl,omitempty"`
	DownloadTokens     string            `json:"downloadTokens,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// ToOutgoing renders o for the Firebase v0 HTTP API.
func ToOutgoing(o Object) Outgoing {
	encoding := o.ContentEncoding
	if encoding == "" {
		encoding = "identity"
	}
	disposition := o.ContentDisposition
	if disposition == "" {
		disposition = "inline"
	}

	return Outgoing{
		Name:               o.Name,
		Bucket:             o.Bucket,
		Generation:         strconv.FormatInt(o.Generation, 10),
		Metageneration:     strconv.FormatInt(o.Metageneration, 10),
		ContentType:        o.ContentType,
		TimeCreated:        formatTime(o.TimeCreated),
		Updated:            formatTime(o.Updated),
		StorageClass:       o.StorageClass,
		Size:               strconv.FormatInt(o.Size, 10),
		MD5Hash:            o.MD5Hash,
		CRC32C:             o.CRC32C,
		Etag:               o.ETag(),
		ContentEncoding:    encoding,
		ContentDisposition: disposition,
		ContentLanguage:    o.ContentLanguage,
		CacheControl:       o.CacheControl,
		DownloadTokens:     strings.Join(o.DownloadTokens, ","),
		Metadata:           o.Clone().CustomMetadata,
	}
}
