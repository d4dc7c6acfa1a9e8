package metadata

import (
	"fmt"
	"time"
)

// Record is the persisted form of an Object. Field names are part of the
// on-disk format and must stay stable so that existing stores keep loading.
type Record struct {
	Name               string            `json:"name"`
	Bucket             string            `json:"bucket"`
	Generation         int64             `json:"generation"`
	Metageneration     int64             `json:"metageneration"`
	ContentType        string            `json:"contentType"`
	ContentEncoding    string            `json:"contentEncoding,omitempty"`
	ContentDisposition string            `json:"contentDisposition,omitempty"`
	ContentLanguage    string            `json:"contentLanguage,omitempty"`
	CacheControl       string            `json:"cacheControl,omitempty"`
	StorageClass       string            `json:"storageClass,omitempty"`
	Size               int64             `json:"size"`
	MD5Hash            string            `json:"md5Hash"`
	CRC32C             string            `json:"crc32c"`
	CustomMetadata     map[string]string `json:"customMetadata"`
	DownloadTokens     []string          `json:"downloadTokens"`
	TimeCreated        string            `json:"timeCreated"`
	Updated            string            `json:"updated"`
}

// ToRecord converts an Object into its persisted representation.
func ToRecord(o Object) Record {
	o = o.Clone()
	return Record{
		Name:               o.Name,
		Bucket:             o.Bucket,
		Generation:         o.Generation,
		Metageneration:     o.Metageneration,
		ContentType:        o.ContentType,
		ContentEncoding:    o.ContentEncoding,
		ContentDisposition: o.ContentDisposition,
		ContentLanguage:    o.ContentLanguage,
		CacheControl:       o.CacheControl,
		StorageClass:       o.StorageClass,
		Size:               o.Size,
		MD5Hash:            o.MD5Hash,
		CRC32C:             o.CRC32C,
		CustomMetadata:     o.CustomMetadata,
		DownloadTokens:     o.DownloadTokens,
		TimeCreated:        formatTime(o.TimeCreated),
		Updated:            formatTime(o.Updated),
	}
}

// FromRecord rebuilds an Object from its persisted representation.
func FromRecord(r Record) (Object, error) {
	created, err := parseTime(r.TimeCreated)
	if err != nil {
		return Object{}, fmt.Errorf("%w: timeCreated: %v", ErrInvalidRecord, err)
	}
	updated, err := parseTime(r.Updated)
	if err != nil {
		return Object{}, fmt.Errorf("%w: updated: %v", ErrInvalidRecord, err)
	}

	obj := Object{
		Name:               r.Name,
		Bucket:             r.Bucket,
		Generation:         r.Generation,
		Metageneration:     r.Metageneration,
		ContentType:        r.ContentType,
		ContentEncoding:    r.ContentEncoding,
		ContentDisposition: r.ContentDisposition,
		ContentLanguage:    r.ContentLanguage,
		CacheControl:       r.CacheControl,
		StorageClass:       r.StorageClass,
		Size:               r.Size,
		MD5Hash:            r.MD5Hash,
		CRC32C:             r.CRC32C,
		CustomMetadata:     r.CustomMetadata,
		DownloadTokens:     r.DownloadTokens,
		TimeCreated:        created,
		Updated:            updated,
	}
	return obj.Clone(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
