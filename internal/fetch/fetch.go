// Package fetch implements the size-checked, hop-by-hop-header-filtered streaming
// download of an audio file from an HTTP(S) source (spec component C).
package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/loistio/loist-mcp/internal/errors"
)

const (
	connectTimeout = 60 * time.Second
	totalTimeout   = 5 * time.Minute
)

// hopByHop headers are stripped from caller-supplied headers before they
// are forwarded upstream, per RFC 7230 §6.1.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Options carries the per-call fetch parameters.
type Options struct {
	URL        string
	Headers    map[string]string
	MaxSizeMB  int
}

// Result is the outcome of a successful fetch: the path to a temporary
// file holding the downloaded body, and its exact size.
type Result struct {
	Path string
	Size int64
}

// Fetcher downloads sources over HTTP(S) with the policies of spec §4.C.
type Fetcher struct {
	client *http.Client
}

// New builds a Fetcher with a dialer that rejects private/loopback
// addresses and the connect/total timeouts spec §5 requires.
func New() *Fetcher {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			if err := rejectPrivateHost(ctx, host); err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, addr)
		},
	}
	return &Fetcher{client: &http.Client{Transport: transport, Timeout: totalTimeout}}
}

// rejectPrivateHost resolves host and fails if any resulting address is
// loopback, link-local, or private, per spec §4.C's FETCH_FORBIDDEN rule.
func rejectPrivateHost(ctx context.Context, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return apperrors.New(apperrors.FetchForbidden, "target address is private or loopback")
		}
		return nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return apperrors.Wrap(apperrors.FetchFailed, "dns resolution failed", err)
	}
	for _, a := range addrs {
		if isBlockedIP(a.IP) {
			return apperrors.New(apperrors.FetchForbidden, "target address is private or loopback")
		}
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// Fetch downloads opts.URL to a temporary file, enforcing opts.MaxSizeMB
// both via a preflight HEAD and a running byte counter during the body
// read, per spec §4.C.
func (f *Fetcher) Fetch(ctx context.Context, opts Options) (*Result, error) {
	if err := validateScheme(opts.URL); err != nil {
		return nil, err
	}
	maxBytes := int64(opts.MaxSizeMB) * 1024 * 1024

	if err := f.preflight(ctx, opts, maxBytes); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.FetchFailed, "building request failed", err)
	}
	applyHeaders(req, opts.Headers)

	resp, err := f.client.Do(req)
	if err != nil {
		if kindErr, ok := apperrors.As(err); ok {
			return nil, kindErr
		}
		return nil, apperrors.Wrap(apperrors.FetchFailed, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fetchFailedForStatus(resp.StatusCode, resp.Status)
	}

	tmp, err := os.CreateTemp("", "loist-fetch-*")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InternalError, "creating temp file failed", err)
	}
	cleanup := true
	defer func() {
		tmp.Close()
		if cleanup {
			os.Remove(tmp.Name())
		}
	}()

	counting := &countingReader{r: resp.Body, limit: maxBytes}
	if _, err := io.Copy(tmp, counting); err != nil {
		if counting.exceeded {
			return nil, apperrors.New(apperrors.SizeExceeded, "body exceeded max-size-mb mid-stream")
		}
		return nil, apperrors.Wrap(apperrors.FetchFailed, "reading body failed", err)
	}

	cleanup = false
	return &Result{Path: tmp.Name(), Size: counting.read}, nil
}

func (f *Fetcher) preflight(ctx context.Context, opts Options, maxBytes int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, opts.URL, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.FetchFailed, "building preflight request failed", err)
	}
	applyHeaders(req, opts.Headers)

	resp, err := f.client.Do(req)
	if err != nil {
		if kindErr, ok := apperrors.As(err); ok {
			return kindErr
		}
		// Some servers reject HEAD outright; treat as "unknown length" and
		// fall through to the GET with its running byte counter.
		return nil
	}
	defer resp.Body.Close()

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > maxBytes {
			return apperrors.New(apperrors.SizeExceeded, "content-length exceeds max-size-mb")
		}
	}
	return nil
}

// fetchFailedForStatus builds a FETCH_FAILED error for a non-2xx upstream
// response, retriable only for 5xx per spec §7 ("FETCH_FAILED(5xx/network)")
// — a 4xx is terminal for the attempt, since a retry won't change it.
func fetchFailedForStatus(status int, statusText string) error {
	err := apperrors.New(apperrors.FetchFailed, "upstream returned status "+statusText).
		WithDetails(map[string]any{"status": status})
	if status < 500 {
		return err.NotRetriable()
	}
	return err
}

func validateScheme(rawURL string) error {
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return apperrors.New(apperrors.FetchForbidden, "only http and https schemes are allowed")
	}
	return nil
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		if hopByHopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		req.Header.Set(k, v)
	}
}

// countingReader enforces maxBytes across a streamed body even when the
// upstream Content-Length was absent or understated.
type countingReader struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.limit > 0 && c.read > c.limit {
		c.exceeded = true
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}
