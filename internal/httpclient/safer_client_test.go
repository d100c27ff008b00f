package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/easyjob/errors"
)

func TestNew_Defaults(t *testing.T) {
	c := New(Options{})

	assert.Equal(t, DefaultTimeout, c.Timeout)
	assert.Equal(t, DefaultMaxRedirects, c.opts.MaxRedirects)
	assert.Equal(t, []string{"http", "https"}, c.opts.AllowedSchemes)
	assert.NotNil(t, c.Transport, "blocking client dials through the checking transport")
}

func TestValidate(t *testing.T) {
	c := New(Options{})

	tests := []struct {
		name    string
		url     string
		blocked bool
	}{
		{"https", "https://example.com/path", false},
		{"http", "http://example.com", false},
		{"file scheme", "file:///etc/passwd", true},
		{"ftp scheme", "ftp://example.com", true},
		{"localhost", "http://localhost/admin", true},
		{"localhost upper", "http://LOCALHOST/", true},
		{"localhost subdomain", "http://api.localhost/", true},
		{"loopback", "http://127.0.0.1:8080/", true},
		{"rfc1918", "http://10.1.2.3/", true},
		{"metadata", "http://169.254.169.254/latest/meta-data", true},
		{"ipv6 loopback", "http://[::1]/", true},
		{"userinfo", "http://user@example.com/", true},
		{"no host", "http:///path", true},
		{"public ip", "http://93.184.216.34/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Validate(tt.url)
			if tt.blocked {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrBlocked), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_AllowPrivate(t *testing.T) {
	c := New(Options{AllowPrivate: true, AllowedSchemes: []string{"https"}})

	_, err := c.Validate("https://127.0.0.1/")
	assert.NoError(t, err)

	_, err = c.Validate("http://example.com")
	assert.True(t, errors.Is(err, ErrBlocked), "scheme rules still apply")
}

func TestIsSpecialIP(t *testing.T) {
	tests := []struct {
		ip      string
		special bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"0.1.2.3", true},
		{"224.0.0.1", true},
		{"240.0.0.1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"172.32.0.1", false},
		{"::1", true},
		{"fe80::1", true},
		{"fc00::1", true},
		{"fd12::1", true},
		{"fec0::1", true},
		{"ff02::1", true},
		{"2001:db8::1", true},
		{"::ffff:10.0.0.1", true},
		{"2001:4860:4860::8888", false},
	}
	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		require.NotNil(t, ip, tt.ip)
		assert.Equal(t, tt.special, isSpecialIP(ip), tt.ip)
	}
}

func TestIsLocalhost(t *testing.T) {
	assert.True(t, isLocalhost("localhost"))
	assert.True(t, isLocalhost("localhost."))
	assert.True(t, isLocalhost("localhost.localdomain"))
	assert.True(t, isLocalhost("admin.localhost"))
	assert.False(t, isLocalhost("example.com"))
	assert.False(t, isLocalhost("local.host"))
}

func TestGet_AllowPrivateReachesTestServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "easyjob-test", r.Header.Get("User-Agent"))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Options{AllowPrivate: true, UserAgent: "easyjob-test", Timeout: 5 * time.Second})
	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGet_BlocksLoopbackTestServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should never arrive")
	}))
	defer srv.Close()

	c := New(Options{Timeout: 5 * time.Second})
	_, err := c.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBlocked))
}

func TestRedirects(t *testing.T) {
	t.Run("limit", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/again", http.StatusFound)
		}))
		defer srv.Close()

		c := New(Options{AllowPrivate: true, MaxRedirects: 3, Timeout: 5 * time.Second})
		_, err := c.Get(context.Background(), srv.URL)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBlocked))
		assert.Contains(t, err.Error(), "stopped after 3 redirects")
	})

	t.Run("scheme change", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "ftp://example.com/file", http.StatusFound)
		}))
		defer srv.Close()

		c := New(Options{AllowPrivate: true, Timeout: 5 * time.Second})
		_, err := c.Get(context.Background(), srv.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redirect blocked")
	})
}
