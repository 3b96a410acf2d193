package objstore

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestLocalFSPutGetRange(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir(), []byte("secret"), "https://loist.io/local-objects")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	data := []byte("0123456789")
	if err := fs.Put(ctx, "audio/abc/abc.mp3", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatal(err)
	}

	r, err := fs.GetRange(ctx, "audio/abc/abc.mp3", 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "2345" {
		t.Fatalf("got %q, want %q", got, "2345")
	}

	exists, err := fs.Exists(ctx, "audio/abc/abc.mp3")
	if err != nil || !exists {
		t.Fatalf("exists = %v, %v", exists, err)
	}
	size, err := fs.Size(ctx, "audio/abc/abc.mp3")
	if err != nil || size != 10 {
		t.Fatalf("size = %d, %v", size, err)
	}
}

func TestLocalFSSignRoundTrip(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir(), []byte("secret"), "https://loist.io/local-objects")
	if err != nil {
		t.Fatal(err)
	}
	signed, err := fs.Sign(context.Background(), "audio/abc/abc.mp3", 15*time.Minute, MethodGet, SignOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(signed, "https://loist.io/local-objects?") {
		t.Fatalf("unexpected signed url: %s", signed)
	}

	// Tamper with the signature and confirm verification fails.
	expiry := time.Now().Add(15 * time.Minute).Unix()
	if err := fs.VerifySigned("audio/abc/abc.mp3", expiry, "deadbeef"); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}

	expired := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	expiredInt, _ := strconv.ParseInt(expired, 10, 64)
	sig := fs.signature("audio/abc/abc.mp3", expiredInt)
	if err := fs.VerifySigned("audio/abc/abc.mp3", expiredInt, sig); err == nil {
		t.Fatal("expected expired signature to fail")
	}
}

func TestLocalFSSignRejectsPut(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir(), []byte("secret"), "https://loist.io/local-objects")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Sign(context.Background(), "k", time.Minute, MethodPut, SignOptions{}); err == nil {
		t.Fatal("expected PUT signing to be rejected for local backend")
	}
}
