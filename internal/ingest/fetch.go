// Package ingest fetches web pages and reduces them to readable text so
// they can be summarized into a user's conversation memory.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	ErrInvalidURL = errors.New("invalid url")
	ErrFetch      = errors.New("fetch failed")
)

const (
	DefaultTimeout  = 20 * time.Second
	DefaultMaxBytes = 2 << 20
)

// Page is the readable content of one fetched document.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Text  string `json:"-"`
}

// Fetcher downloads pages over HTTP(S).
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// Options configure a Fetcher.
type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	// AllowPrivate permits loopback, private and link-local targets.
	AllowPrivate bool
}

// NewFetcher creates a Fetcher. Zero options fall back to the defaults.
func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if !opts.AllowPrivate {
		dialer.Control = denyPrivate
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &Fetcher{
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		maxBytes: opts.MaxBytes,
	}
}

// ParseURL accepts absolute http and https URLs only.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// Fetch downloads rawURL and returns its readable text. HTML is stripped
// to visible text; other text types are returned as is.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return Page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", "chat-memory/1.0")
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{}, ctxErr
		}
		return Page{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fmt.Errorf("%w: %s returned %d", ErrFetch, u.Host, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, f.maxBytes)
	page := Page{URL: u.String()}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		page.Title, page.Text, err = ExtractText(body)
	case strings.HasPrefix(mediaType, "text/"):
		var b []byte
		b, err = io.ReadAll(body)
		page.Text = strings.TrimSpace(string(b))
	default:
		return Page{}, fmt.Errorf("%w: unsupported content type %q", ErrFetch, mediaType)
	}
	if err != nil {
		return Page{}, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	if page.Text == "" {
		return Page{}, fmt.Errorf("%w: no readable text", ErrFetch)
	}
	return page, nil
}

func denyPrivate(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: unresolved address %s", ErrFetch, address)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("%w: address %s is not public", ErrFetch, ip)
	}
	return nil
}
