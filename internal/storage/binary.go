package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/etag"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob" // file:// URLs
	_ "gocloud.dev/blob/memblob"  // mem:// URLs
)

const blobPrefix = "blobs/"

// OpenBlobBucket opens a bucket from a gocloud URL such as mem:// or
// file:///var/lib/odata.
func OpenBlobBucket(ctx context.Context, url string) (*blob.Bucket, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("storage: open bucket %q: %w", url, err)
	}
	return bucket, nil
}

// OpenBinary opens the stream stored for a binary field of c.
func (r *Repository) OpenBinary(ctx context.Context, c *content.Content, fieldName string) (io.ReadCloser, content.Binary, error) {
	f, ok := c.Field(fieldName)
	if !ok || f.Setting.Kind != content.KindBinary {
		return nil, content.Binary{}, content.ErrNotFound
	}
	v, err := f.Data(ctx)
	if err != nil {
		return nil, content.Binary{}, err
	}
	b, ok := v.(content.Binary)
	if !ok || b.Key == "" {
		return nil, content.Binary{}, content.ErrNotFound
	}
	reader, err := r.bucket.NewReader(ctx, b.Key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, b, content.ErrNotFound
		}
		return nil, b, fmt.Errorf("storage: open %s: %w", b.Key, err)
	}
	return reader, b, nil
}

// SetBinary replaces the stream of a binary field.
func (r *Repository) SetBinary(ctx context.Context, c *content.Content, fieldName, fileName, contentType string, body io.Reader) (content.Binary, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return content.Binary{}, fmt.Errorf("storage: read upload: %w", err)
	}
	b, err := r.writeBlob(ctx, fileName, contentType, data)
	if err != nil {
		return content.Binary{}, err
	}
	if err := r.SaveContent(ctx, c, map[string]interface{}{fieldName: b}, false); err != nil {
		return content.Binary{}, err
	}
	return b, nil
}

// storeUpload accepts a stored Binary or an object with fileName, contentType
// and base64 data, and returns the stored descriptor.
func (r *Repository) storeUpload(ctx context.Context, setting *content.FieldSetting, value interface{}) (content.Binary, error) {
	switch v := value.(type) {
	case content.Binary:
		return v, nil
	case map[string]interface{}:
		fileName, _ := v["fileName"].(string)
		contentType, _ := v["contentType"].(string)
		encoded, _ := v["data"].(string)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return content.Binary{}, fmt.Errorf("%w: %s: data is not base64", ErrInvalidField, setting.Name)
		}
		return r.writeBlob(ctx, fileName, contentType, data)
	}
	return content.Binary{}, fmt.Errorf("%w: %s expects an upload object", ErrInvalidField, setting.Name)
}

// writeBlob stores data under a key derived from its hash, so identical
// uploads share one object.
func (r *Repository) writeBlob(ctx context.Context, fileName, contentType string, data []byte) (content.Binary, error) {
	hash, size, err := etag.SumReader(bytes.NewReader(data))
	if err != nil {
		return content.Binary{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := blobPrefix + hash
	if err := r.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: contentType}); err != nil {
		return content.Binary{}, fmt.Errorf("storage: write %s: %w", key, err)
	}
	return content.Binary{FileName: fileName, ContentType: contentType, Size: size, Hash: hash, Key: key}, nil
}

func binaryKeys(rec *contentRecord) []string {
	data, err := decodeFieldData(rec.FieldData)
	if err != nil {
		return nil
	}
	var keys []string
	for _, raw := range data {
		var b storedBinary
		if err := decodeJSON(raw, &b); err == nil && b.Key != "" {
			keys = append(keys, b.Key)
		}
	}
	return keys
}

// releaseBlobs deletes blobs no remaining content refers to.
func (r *Repository) releaseBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		var refs int64
		if err := r.db.WithContext(ctx).Model(&contentRecord{}).Where("field_data LIKE ?", "%"+key+"%").Count(&refs).Error; err != nil {
			r.logger.Warn("Failed to count blob references", "key", key, "error", err)
			continue
		}
		if refs > 0 {
			continue
		}
		if err := r.bucket.Delete(ctx, key); err != nil && !errors.Is(err, context.Canceled) && gcerrors.Code(err) != gcerrors.NotFound {
			r.logger.Warn("Failed to delete blob", "key", key, "error", err)
		}
	}
}
