package persidict_test

import (
	"context"
	"os"
	"testing"

	"github.com/adrianmcphee/persidict"
	"github.com/adrianmcphee/persidict/backendtest"
	"github.com/adrianmcphee/persidict/codec"
)

// TestGCSBackendCompliance_RealBucket runs the shared compliance suite
// against a real GCS bucket. There is no GCS emulator in the dependency
// set the way MinIO stands in for S3 (see s3_backend_test.go), so this
// test only runs when a bucket is explicitly provided, the same opt-in
// pattern the teacher uses for its real-S3 integration mode.
//
// Run with: TEST_GCS_BUCKET=your-test-bucket go test -run TestGCSBackendCompliance_RealBucket -v
func TestGCSBackendCompliance_RealBucket(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET not set, skipping real-GCS integration test")
	}

	ctx := context.Background()
	prefix := "persidict-test"

	backendtest.Run(t, func(t *testing.T) persidict.PersiDict {
		store, err := persidict.NewGCSBackend(ctx, bucket, prefix, codec.JSON{}, persidict.DefaultConfig())
		if err != nil {
			t.Fatalf("NewGCSBackend failed: %v", err)
		}
		t.Cleanup(func() {
			keys, err := store.Keys(ctx)
			if err != nil {
				return
			}
			for _, k := range keys {
				store.Discard(ctx, k)
			}
		})
		return store
	})
}
