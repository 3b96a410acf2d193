package urlcache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loistio/loist-mcp/internal/objstore"
)

type countingSigner struct {
	calls atomic.Int64
}

func (s *countingSigner) Sign(ctx context.Context, key string, ttl time.Duration, method objstore.Method, opts objstore.SignOptions) (string, error) {
	n := s.calls.Add(1)
	return fmt.Sprintf("https://example.com/%s?sig=%d", key, n), nil
}

func TestCacheHitWithinTTLWindow(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	cache := New(15 * time.Minute).WithClock(func() time.Time { return clock })
	signer := &countingSigner{}

	url1, err := cache.Get(context.Background(), signer, "bucket", "audio/a/a.mp3", objstore.MethodGet, objstore.SignOptions{})
	if err != nil {
		t.Fatal(err)
	}
	url2, err := cache.Get(context.Background(), signer, "bucket", "audio/a/a.mp3", objstore.MethodGet, objstore.SignOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if url1 != url2 {
		t.Fatalf("expected byte-identical URL within TTL window, got %q vs %q", url1, url2)
	}
	if signer.calls.Load() != 1 {
		t.Fatalf("expected exactly one Sign call, got %d", signer.calls.Load())
	}
}

func TestCacheRegeneratesAfterExpiry(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	cache := New(15 * time.Minute).WithClock(func() time.Time { return clock })
	signer := &countingSigner{}

	_, err := cache.Get(context.Background(), signer, "bucket", "audio/a/a.mp3", objstore.MethodGet, objstore.SignOptions{})
	if err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(20 * time.Minute)
	cache.WithClock(func() time.Time { return clock })

	_, err = cache.Get(context.Background(), signer, "bucket", "audio/a/a.mp3", objstore.MethodGet, objstore.SignOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if signer.calls.Load() != 2 {
		t.Fatalf("expected regeneration after ttl elapsed, got %d calls", signer.calls.Load())
	}
}

func TestCacheEvictsSoonestExpiryOnOverflow(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	cache := New(15 * time.Minute).WithMaxEntries(2).WithClock(func() time.Time { return clock })
	signer := &countingSigner{}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cache.Get(ctx, signer, "bucket", fmt.Sprintf("audio/%d/x.mp3", i), objstore.MethodGet, objstore.SignOptions{}); err != nil {
			t.Fatal(err)
		}
		clock = clock.Add(time.Second)
	}
	if cache.Len() > 2 {
		t.Fatalf("expected cache to stay within cap of 2, got %d entries", cache.Len())
	}
	// audio/0 was signed first, so its entry expires soonest and is the one evicted.
	bucketN := clock.Unix() / int64((15 * time.Minute).Seconds())
	if _, ok := cache.entries[key{bucket: "bucket", path: "audio/0/x.mp3", bucketN: bucketN}]; ok {
		t.Fatal("expected the soonest-expiring entry audio/0/x.mp3 to be evicted")
	}
	if _, ok := cache.entries[key{bucket: "bucket", path: "audio/2/x.mp3", bucketN: bucketN}]; !ok {
		t.Fatal("expected the latest entry audio/2/x.mp3 to remain cached")
	}
}
