// Package storage maps tenant-relative object keys onto the deployment bucket.
package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/zenGate-Global/palmyra-helpdesk/platform/go/tenant"
)

// MarkerObject is written under a prefix to materialize it.
const MarkerObject = ".keep"

// ObjectLocation describes where a blob lives.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// ResolveObjectLocation combines the tenant base prefix and a logical key into a bucket/path pair.
// The base prefix already carries the envKey (e.g. "dev/acme-12345678/"); logicalKey is
// tenant-relative, such as "media/<conversation>/<message>.jpg".
func ResolveObjectLocation(space tenant.Space, bucket string, logicalKey string) (ObjectLocation, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ObjectLocation{}, fmt.Errorf("bucket is required")
	}
	key := strings.TrimPrefix(strings.TrimSpace(logicalKey), "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("logical key is required")
	}
	if strings.Contains(key, "..") {
		return ObjectLocation{}, fmt.Errorf("logical key %q escapes the tenant prefix", logicalKey)
	}

	prefix := space.BasePrefix
	if prefix == "" {
		return ObjectLocation{}, fmt.Errorf("tenant base prefix is missing")
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return ObjectLocation{Bucket: bucket, FullPath: prefix + key}, nil
}

// MediaKey is the logical key of an inbound media object.
func MediaKey(conversationID, messageID, ext string) string {
	name := messageID
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	return path.Join("media", conversationID, name)
}
