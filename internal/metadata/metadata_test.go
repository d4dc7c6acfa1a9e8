package metadata

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, obj Object) Object {
	t.Helper()

	encoded, err := json.Marshal(ToRecord(obj))
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(encoded, &rec))

	decoded, err := FromRecord(rec)
	require.NoError(t, err)
	return decoded
}

func TestRecordRoundTripKeepsCustomMetadataAndTokens(t *testing.T) {
	obj := New("bucket", "name", Declared{
		ContentType:    "mime/type",
		DownloadTokens: []string{"token123"},
		CustomMetadata: map[string]string{"foo": "bar"},
	}, []byte("Hello, World!"), time.Now())

	decoded := roundTrip(t, obj)

	assert.Equal(t, obj, decoded)
	assert.Equal(t, map[string]string{"foo": "bar"}, decoded.CustomMetadata)
	assert.Equal(t, []string{"token123"}, decoded.DownloadTokens)
}

func TestRecordRoundTripVariants(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 15, 123456789, time.UTC)

	cases := map[string]Object{
		"empty custom metadata": New("b", "a/b/c.txt", Declared{}, nil, now),
		"nil custom metadata and tokens": {
			Name: "plain", Bucket: "b", Generation: 3, Metageneration: 2,
		},
		"empty token slice": {
			Name: "x", Bucket: "b", DownloadTokens: []string{}, CustomMetadata: map[string]string{},
		},
		"token order preserved": New("b", "ordered", Declared{
			DownloadTokens: []string{"zeta", "alpha", "mid"},
		}, []byte("data"), now),
		"all optional fields": New("b", "full", Declared{
			ContentType:        "text/plain; charset=utf-8",
			ContentEncoding:    "gzip",
			ContentDisposition: "attachment",
			ContentLanguage:    "en",
			CacheControl:       "no-cache",
			CustomMetadata:     map[string]string{"k1": "v1", "k2": ""},
		}, []byte("payload"), now),
	}

	for name, obj := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, obj, roundTrip(t, obj))
		})
	}
}

func TestRecordRoundTripNormalizesTimestampsToUTC(t *testing.T) {
	zone := time.FixedZone("UTC+1", 3600)
	created := time.Date(2024, 3, 1, 13, 30, 15, 0, zone)
	obj := Object{
		Name:        "a",
		Bucket:      "b",
		Generation:  7,
		TimeCreated: created,
		Updated:     created.Add(time.Minute),
	}

	decoded := roundTrip(t, obj)

	assert.Equal(t, obj.Clone(), decoded)
	assert.True(t, decoded.TimeCreated.Equal(created))
	assert.Equal(t, time.UTC, decoded.TimeCreated.Location())
	assert.Equal(t, time.UTC, obj.Clone().Updated.Location())
}

func TestRecordFieldNamesAreStable(t *testing.T) {
	obj := New("bucket", "dir/object", Declared{
		CustomMetadata: map[string]string{"foo": "bar"},
		DownloadTokens: []string{"t1"},
	}, []byte("x"), time.Now())
	obj.Generation = 7

	encoded, err := json.Marshal(ToRecord(obj))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(encoded, &fields))

	for _, key := range []string{
		"name", "bucket", "contentType", "size", "customMetadata", "downloadTokens",
		"generation", "metageneration", "md5Hash", "crc32c", "timeCreated", "updated",
	} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, float64(7), fields["generation"])
}

func TestFromRecordRejectsBadTimestamps(t *testing.T) {
	_, err := FromRecord(Record{Name: "n", Bucket: "b", TimeCreated: "yesterday"})
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestNewComputesContentProperties(t *testing.T) {
	obj := New("bucket", "obj", Declared{}, []byte("Hello, World!"), time.Now())

	assert.Equal(t, int64(13), obj.Size)
	assert.Equal(t, "ZajifYh5KDgxtmS9i38K1A==", obj.MD5Hash)
	assert.Equal(t, "TVUQaA==", obj.CRC32C)
	assert.Equal(t, DefaultContentType, obj.ContentType)
	assert.Equal(t, DefaultStorageClass, obj.StorageClass)
	assert.Equal(t, int64(1), obj.Metageneration)
	assert.NotNil(t, obj.CustomMetadata)
}

func TestNewDoesNotAliasDeclaredValues(t *testing.T) {
	declared := Declared{
		CustomMetadata: map[string]string{"foo": "bar"},
		DownloadTokens: []string{"a"},
	}
	obj := New("b", "o", declared, nil, time.Now())

	declared.CustomMetadata["foo"] = "changed"
	declared.DownloadTokens[0] = "changed"

	assert.Equal(t, "bar", obj.CustomMetadata["foo"])
	assert.Equal(t, []string{"a"}, obj.DownloadTokens)
}

func TestParseDeclared(t *testing.T) {
	d, err := ParseDeclared([]byte(`{"contentType": "mime/type"}`))
	require.NoError(t, err)
	assert.Equal(t, "mime/type", d.ContentType)

	d, err = ParseDeclared(nil)
	require.NoError(t, err)
	assert.Equal(t, Declared{}, d)

	d, err = ParseDeclared([]byte(`{"metadata": {"foo": "bar", "firebaseStorageDownloadTokens": "a, b,a"}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"foo": "bar"}, d.CustomMetadata)
	assert.Equal(t, []string{"a", "b"}, d.DownloadTokens)
	assert.Nil(t, d.Metadata)
}

func TestParseDeclaredRejectsMalformedInput(t *testing.T) {
	inputs := []string{
		`{"contentType": `,
		`{"contentType": 12}`,
		`{"customMetadata": {"foo": 1}}`,
		`{"contentType": "not a media type;;"}`,
		`{"downloadTokens": ["a,b"]}`,
	}
	for _, input := range inputs {
		_, err := ParseDeclared([]byte(input))
		assert.ErrorIs(t, err, ErrInvalidMetadata, input)
	}
}

func TestApplyPatch(t *testing.T) {
	obj := New("b", "o", Declared{
		ContentType:    "text/plain",
		CustomMetadata: map[string]string{"keep": "1", "drop": "2"},
		DownloadTokens: []string{"t1"},
	}, []byte("x"), time.Now())

	patched := obj.ApplyPatch(Declared{
		ContentType:    "application/json",
		CustomMetadata: map[string]string{"drop": "", "add": "3"},
		DownloadTokens: []string{"t1", "t2"},
	})

	assert.Equal(t, "application/json", patched.ContentType)
	assert.Equal(t, map[string]string{"keep": "1", "add": "3"}, patched.CustomMetadata)
	assert.Equal(t, []string{"t1", "t2"}, patched.DownloadTokens)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Len(t, obj.CustomMetadata, 2)
}

func TestDownloadTokenHelpers(t *testing.T) {
	obj := Object{DownloadTokens: []string{"a", "b", "c"}}

	assert.True(t, obj.HasDownloadToken("b"))
	assert.False(t, obj.HasDownloadToken(""))

	without := obj.WithoutDownloadToken("b")
	assert.Equal(t, []string{"a", "c"}, without.DownloadTokens)
	assert.Equal(t, []string{"a", "b", "c"}, obj.DownloadTokens)

	with := without.WithDownloadToken("d").WithDownloadToken("a")
	assert.Equal(t, []string{"a", "c", "d"}, with.DownloadTokens)
}

func TestToOutgoing(t *testing.T) {
	obj := New("bucket", "dir/object", Declared{
		ContentType:    "mime/type",
		CustomMetadata: map[string]string{"foo": "bar"},
		DownloadTokens: []string{"t1", "t2"},
	}, []byte("Hello, World!"), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	obj.Generation = 42

	out := ToOutgoing(obj)

	assert.Equal(t, "42", out.Generation)
	assert.Equal(t, "13", out.Size)
	assert.Equal(t, "t1,t2", out.DownloadTokens)
	assert.Equal(t, "identity", out.ContentEncoding)
	assert.Equal(t, "inline", out.ContentDisposition)
	assert.Equal(t, "2024-01-02T03:04:05Z", out.TimeCreated)
	assert.Equal(t, map[string]string{"foo": "bar"}, out.Metadata)
	assert.NotEmpty(t, out.Etag)
}
