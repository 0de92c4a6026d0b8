// Package etag computes content hashes used for media etags and
// content-addressed download keys.
package etag

import (
	"fmt"
	"io"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Sum returns the hex xxhash digest of data.
func Sum(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// SumReader hashes everything read from r.
func SumReader(r io.Reader) (string, int64, error) {
	h := xxhash.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash stream: %w", err)
	}
	return strconv.FormatUint(h.Sum64(), 16), n, nil
}

// Media formats a strong etag for a binary hash.
func Media(hash string) string {
	if hash == "" {
		return ""
	}
	return `"` + hash + `"`
}

// Weak builds a weak etag from any number of string parts, e.g. a content id
// and its modification stamp.
func Weak(parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.WriteString("\x00")
	}
	return `W/"` + strconv.FormatUint(h.Sum64(), 16) + `"`
}
