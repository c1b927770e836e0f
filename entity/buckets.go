package entity

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names for the two entity families the core depends on.
const (
	BucketTasks      = "TASKS"
	BucketTaskGraphs = "TASKGRAPHS"
)

// GetOrCreateBucket returns the named KV bucket, creating it with a
// short revision history if it doesn't already exist.
func GetOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("task graph scheduler %s storage", name),
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return kv, nil
}
