package hostfunc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGetBlockedWhenNoHosts(t *testing.T) {
	fn := NewHTTPGet(HTTPConfig{AllowedHosts: nil})
	_, err := fn(context.Background(), map[string]any{"url": "https://example.com"})
	assert.EqualError(t, err, "http not enabled")
}

func TestHTTPGetBlockedForUnallowedHost(t *testing.T) {
	fn := NewHTTPGet(HTTPConfig{AllowedHosts: []string{"allowed.com"}})
	_, err := fn(context.Background(), map[string]any{"url": "https://evil.com"})
	assert.EqualError(t, err, "host not allowed: evil.com")
	assert.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestHTTPGetBypassQueryParam(t *testing.T) {
	fn := NewHTTPGet(HTTPConfig{AllowedHosts: []string{"allowed.com"}})
	_, err := fn(context.Background(), map[string]any{"url": "https://evil.com/?x=allowed.com"})
	assert.EqualError(t, err, "host not allowed: evil.com")
}

func TestHTTPGetBypassSubdomainSuffix(t *testing.T) {
	fn := NewHTTPGet(HTTPConfig{AllowedHosts: []string{"allowed.com"}})
	_, err := fn(context.Background(), map[string]any{"url": "https://allowed.com.evil.com/"})
	assert.EqualError(t, err, "host not allowed: allowed.com.evil.com")
}

func TestHTTPGetAllowsExactHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	fn := NewHTTPGet(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}})
	result, err := fn(context.Background(), map[string]any{"url": server.URL})
	require.NoError(t, err)

	data := result.(map[string]any)
	assert.Equal(t, 200, data["status"])
	assert.Equal(t, `{"ok": true}`, data["body"])
}

func TestHTTPAllowsSubdomain(t *testing.T) {
	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"example.com"}})
	assert.True(t, h.isHostAllowed("api.example.com"))
	assert.True(t, h.isHostAllowed("example.com"))
	assert.False(t, h.isHostAllowed("badexample.com"))
}

func TestHTTPGetMissingURL(t *testing.T) {
	fn := NewHTTPGet(HTTPConfig{AllowedHosts: []string{"example.com"}})
	_, err := fn(context.Background(), map[string]any{})
	assert.EqualError(t, err, "url required")
}

func TestHTTPGetInvalidURL(t *testing.T) {
	fn := NewHTTPGet(HTTPConfig{AllowedHosts: []string{"example.com"}})
	_, err := fn(context.Background(), map[string]any{"url": "://invalid"})
	assert.EqualError(t, err, "invalid url")
}

func TestHTTPGetURLTooLong(t *testing.T) {
	fn := NewHTTPGet(HTTPConfig{
		AllowedHosts: []string{"example.com"},
		MaxURLLength: 100,
	})

	longURL := "https://example.com/" + string(make([]byte, 200))
	_, err := fn(context.Background(), map[string]any{"url": longURL})
	assert.EqualError(t, err, "url exceeds max length")
}

func TestHTTPGetDefaultMaxURLLength(t *testing.T) {
	fn := NewHTTPGet(HTTPConfig{AllowedHosts: []string{"example.com"}})

	longURL := "https://example.com/" + string(make([]byte, 10*1024))
	_, err := fn(context.Background(), map[string]any{"url": longURL})
	assert.EqualError(t, err, "url exceeds max length")
}

func TestHTTPDoPost(t *testing.T) {
	var gotBody, gotType, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		gotMethod = r.Method
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}})
	resp, err := h.Do(context.Background(), Request{
		Method:  "post",
		URL:     server.URL,
		Body:    "a=1",
		Headers: map[string]string{"Content-Type": "text/plain"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.True(t, resp.OK())
	assert.Equal(t, "yes", resp.Headers["X-Reply"])
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "a=1", gotBody)
	assert.Equal(t, "text/plain", gotType)
}

func TestHTTPBodyTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}, MaxBodySize: 4})
	resp, err := h.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "0123", resp.Body)
	assert.True(t, resp.Truncated)

	h = NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}, MaxBodySize: 10})
	resp, err = h.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", resp.Body)
	assert.False(t, resp.Truncated, "a body of exactly the limit is complete")
}

func TestHTTPUnsupportedMethod(t *testing.T) {
	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"example.com"}})
	_, err := h.Do(context.Background(), Request{Method: "TRACE", URL: "https://example.com"})
	assert.EqualError(t, err, "unsupported method: TRACE")
}

func TestHTTPSchemeRejected(t *testing.T) {
	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"example.com"}})
	_, err := h.Get(context.Background(), "file:///etc/passwd")
	assert.EqualError(t, err, "scheme must be http or https")
}

func TestHTTPIPv6Normalization(t *testing.T) {
	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"::1"}})

	tests := []struct {
		host    string
		allowed bool
	}{
		{"::1", true},
		{"0:0:0:0:0:0:0:1", true},
		{"::2", false},
		{"example.com", false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.allowed, h.isHostAllowed(tc.host), tc.host)
	}
}

func TestHTTPIPNoSubdomainBypass(t *testing.T) {
	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"example.com"}})

	for _, host := range []string{"::1", "127.0.0.1", "192.168.1.1", "2001:db8::1"} {
		assert.False(t, h.isHostAllowed(host), host)
	}
}

func TestHostsOf(t *testing.T) {
	got := HostsOf(
		"https://raw.example.com/a.csv",
		"https://raw.example.com/b.csv",
		"http://127.0.0.1:8080/c",
		"::bad",
	)
	assert.Equal(t, []string{"raw.example.com", "127.0.0.1"}, got)
}
