package storage

import (
	"fmt"
	"strings"
)

// StrongEtag remove "W/" prefix from ETag.
// In some cases S3 return ETag with "W/" prefix which mean that it not strong ETag.
// For easier compare we remove this prefix.
func StrongEtag(s *string) *string {
	if s == nil {
		return nil
	}
	etag := strings.TrimPrefix(*s, "W/")
	return &etag
}

// ParseRef splits an object reference in "bucket:key" form.
func ParseRef(ref string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(ref, ":")
	if !ok || bucket == "" || key == "" || strings.Contains(key, ":") {
		return "", "", fmt.Errorf("invalid object reference %q, expected bucket:key", ref)
	}
	return bucket, key, nil
}
