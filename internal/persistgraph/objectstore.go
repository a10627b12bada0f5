// File: internal/persistgraph/objectstore.go
// Brief: Remote object store capability used by the persistent graph.

package persistgraph

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned (wrapped) by every ObjectStore when the object at a
// location does not exist.
var ErrNotFound = errors.New("object not found")

const keyPrefix = "persistent_graphs"

// Location addresses one object.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return "s3://" + l.Bucket + "/" + l.Key
}

// KeyFor normalizes a persistent graph key to
// persistent_graphs/<namespace>/<key>.json. The .json suffix is only
// appended when missing.
func KeyFor(namespace, key string) string {
	key = strings.TrimSpace(key)
	if !strings.HasSuffix(key, ".json") {
		key += ".json"
	}
	return path.Join(keyPrefix, namespace, key)
}

type PutOptions struct {
	Tags        map[string]string
	ContentType string
	// SSE and ACL are forwarded to backends that support them.
	SSE string
	ACL string
}

// ObjectStore is the narrow slice of an S3-like API the store needs.
// Implementations must wrap ErrNotFound for missing objects.
type ObjectStore interface {
	GetObject(ctx context.Context, loc Location) ([]byte, error)
	PutObject(ctx context.Context, loc Location, body []byte, opts PutOptions) error
	DeleteObject(ctx context.Context, loc Location) error
	GetTags(ctx context.Context, loc Location) (map[string]string, error)
	PutTags(ctx context.Context, loc Location, tags map[string]string) error
	DeleteTags(ctx context.Context, loc Location) error
}
