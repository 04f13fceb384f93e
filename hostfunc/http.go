package hostfunc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

var ErrHostNotAllowed = errors.New("host not allowed")

type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
	// Client overrides the default client. Tests pass httptest clients here.
	Client *http.Client
}

type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &HTTP{cfg: cfg, client: client}
}

// Request is an outbound request issued on behalf of lesson code or the
// host itself.
type Request struct {
	Method  string
	URL     string
	Body    string
	Headers map[string]string
}

// Do validates the request against the allow list and size limits and
// performs it. A body longer than MaxBodySize is cut there and the response
// is marked Truncated.
func (h *HTTP) Do(ctx context.Context, r Request) (HTTPResponse, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
	default:
		return HTTPResponse{}, fmt.Errorf("unsupported method: %s", method)
	}

	if r.URL == "" {
		return HTTPResponse{}, errors.New("url required")
	}
	if len(r.URL) > h.cfg.MaxURLLength {
		return HTTPResponse{}, errors.New("url exceeds max length")
	}

	parsed, err := url.Parse(r.URL)
	if err != nil {
		return HTTPResponse{}, errors.New("invalid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return HTTPResponse{}, errors.New("scheme must be http or https")
	}

	if len(h.cfg.AllowedHosts) == 0 {
		return HTTPResponse{}, errors.New("http not enabled")
	}
	host := parsed.Hostname()
	if !h.isHostAllowed(host) {
		return HTTPResponse{}, fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}

	var body io.Reader
	if r.Body != "" {
		if int64(len(r.Body)) > h.cfg.MaxBodySize {
			return HTTPResponse{}, errors.New("request body exceeds max size")
		}
		body = bytes.NewBufferString(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize+1))
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("failed to read response: %w", err)
	}
	truncated := int64(len(respBody)) > h.cfg.MaxBodySize
	if truncated {
		respBody = respBody[:h.cfg.MaxBodySize]
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return HTTPResponse{
		Status:  resp.StatusCode,
		Body:      string(respBody),
		Headers:   headers,
		Truncated: truncated,
	}, nil
}

// Get is shorthand for a GET request without headers.
func (h *HTTP) Get(ctx context.Context, rawURL string) (HTTPResponse, error) {
	return h.Do(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

// Request is the host function form of Do.
func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	rawURL, _ := args["url"].(string)
	bodyStr, _ := args["body"].(string)

	r := Request{Method: method, URL: rawURL, Body: bodyStr}
	if headers, ok := args["headers"].(map[string]any); ok {
		r.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			if vs, ok := v.(string); ok {
				r.Headers[k] = vs
			}
		}
	}

	resp, err := h.Do(ctx, r)
	if err != nil {
		return nil, err
	}
	return resp.Map(), nil
}

func (h *HTTP) isHostAllowed(host string) bool {
	ip, ipErr := netip.ParseAddr(host)
	for _, allowed := range h.cfg.AllowedHosts {
		if allowed == "*" {
			return true
		}
		if ipErr == nil {
			if a, err := netip.ParseAddr(allowed); err == nil && a == ip {
				return true
			}
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// HostsOf returns the distinct hostnames of the given URLs, skipping any
// that do not parse.
func HostsOf(urls ...string) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		if h := u.Hostname(); !seen[h] {
			seen[h] = true
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func NewHTTPGet(cfg HTTPConfig) Func {
	h := NewHTTP(cfg)
	return func(ctx context.Context, args map[string]any) (any, error) {
		rawURL, _ := args["url"].(string)
		resp, err := h.Get(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return resp.Map(), nil
	}
}
