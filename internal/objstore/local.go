package objstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LocalFS stores objects on the local filesystem under a root directory.
// It has no remote signing capability, so Sign mints an HMAC-protected
// path token instead, checkable with VerifySigned. No handler in this
// repository serves publicURL or calls VerifySigned.
type LocalFS struct {
	root      string
	signKey   []byte
	publicURL string // base URL that Sign puts in front of the signed query
}

// NewLocalFS returns a LocalFS backed by root. The directory is created if
// needed. signKey authenticates locally-minted signed URLs; publicURL is
// the externally reachable base (e.g. "https://loist.io/local-objects").
func NewLocalFS(root string, signKey []byte, publicURL string) (*LocalFS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root %q: %w", root, err)
	}
	return &LocalFS{root: root, signKey: signKey, publicURL: publicURL}, nil
}

func (l *LocalFS) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalFS) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	dest := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %q: %w", dest, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write %q: %w", dest, err)
	}
	return nil
}

func (l *LocalFS) GetRange(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", key, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %q: %w", key, err)
	}
	return &limitedReadCloser{r: io.LimitReader(f, length), c: f}, nil
}

func (l *LocalFS) Delete(_ context.Context, key string) error {
	err := os.Remove(l.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (l *LocalFS) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (l *LocalFS) Size(_ context.Context, key string) (int64, error) {
	fi, err := os.Stat(l.path(key))
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error               { return l.c.Close() }

// Sign mints a locally-verifiable HMAC-signed URL under publicURL carrying
// key, exp and sig query parameters. PUT uploads have no meaning for
// the local backend in this system (uploads always go through Put
// directly from the orchestrator), so only GET is supported.
func (l *LocalFS) Sign(_ context.Context, key string, ttl time.Duration, method Method, opts SignOptions) (string, error) {
	if method != MethodGet {
		return "", fmt.Errorf("local backend only supports GET signing")
	}
	expiry := time.Now().Add(ttl).Unix()
	sig := l.signature(key, expiry)

	q := url.Values{}
	q.Set("key", key)
	q.Set("exp", strconv.FormatInt(expiry, 10))
	q.Set("sig", sig)
	if opts.ContentType != "" {
		q.Set("ct", opts.ContentType)
	}
	if opts.Disposition != "" {
		q.Set("cd", opts.Disposition)
	}
	return l.publicURL + "?" + q.Encode(), nil
}

// VerifySigned checks a (key, expiry, sig) tuple produced by Sign,
// returning an error if the signature doesn't match or ttl has elapsed.
func (l *LocalFS) VerifySigned(key string, expiry int64, sig string) error {
	if time.Now().Unix() > expiry {
		return fmt.Errorf("signed url expired")
	}
	want := l.signature(key, expiry)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func (l *LocalFS) signature(key string, expiry int64) string {
	mac := hmac.New(sha256.New, l.signKey)
	mac.Write([]byte(key))
	mac.Write([]byte(strconv.FormatInt(expiry, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
