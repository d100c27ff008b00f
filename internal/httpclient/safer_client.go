// Package httpclient is the outbound HTTP client job bodies use. It refuses
// loopback, private and other special-use destinations unless told otherwise,
// both in the URL and after DNS resolution.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/easyjob/errors"
)

// ErrBlocked marks requests refused before any connection was made.
var ErrBlocked = errors.New("request blocked")

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 10
)

// Options configures a Client. The zero value is a blocking client with
// default timeout and redirect limit.
type Options struct {
	Timeout        time.Duration
	MaxRedirects   int
	AllowPrivate   bool     // permit loopback and private targets (tests, intranet jobs)
	AllowedSchemes []string // default http, https
	UserAgent      string
}

// Client wraps http.Client with destination checks.
type Client struct {
	*http.Client
	opts Options
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if len(opts.AllowedSchemes) == 0 {
		opts.AllowedSchemes = []string{"http", "https"}
	}

	c := &Client{Client: &http.Client{Timeout: opts.Timeout}, opts: opts}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.opts.MaxRedirects {
			return errors.Mark(errors.Newf("stopped after %d redirects", c.opts.MaxRedirects), ErrBlocked)
		}
		if err := c.check(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	if !opts.AllowPrivate {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		c.Transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to resolve host %q", host)
				}
				for _, ip := range ips {
					if isSpecialIP(ip) {
						return nil, errors.Mark(errors.Newf("%s resolves to blocked address %s", host, ip), ErrBlocked)
					}
				}
				// dial the checked address so a second lookup cannot rebind
				return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
			},
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	return c
}

// Validate parses rawURL and checks it against the client's rules.
func (c *Client) Validate(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid URL"), ErrBlocked)
	}
	if err := c.check(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) check(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.opts.AllowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Mark(errors.Newf("scheme %q not allowed", scheme), ErrBlocked)
	}
	if u.User != nil {
		return errors.Mark(errors.New("URL carries userinfo"), ErrBlocked)
	}

	host := u.Hostname()
	if host == "" {
		return errors.Mark(errors.New("URL missing hostname"), ErrBlocked)
	}
	if c.opts.AllowPrivate {
		return nil
	}
	if isLocalhost(host) {
		return errors.Mark(errors.Newf("localhost target %q", host), ErrBlocked)
	}
	if ip := net.ParseIP(host); ip != nil && isSpecialIP(ip) {
		return errors.Mark(errors.Newf("blocked address %s", ip), ErrBlocked)
	}
	return nil
}

// Get issues a GET bound to ctx.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	if _, err := c.Validate(rawURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	return c.Do(req)
}

// Do checks req's URL and sends it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.check(req.URL); err != nil {
		return nil, err
	}
	if c.opts.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	return c.Client.Do(req)
}

var documentationV6 = mustCIDR("2001:db8::/32")

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// isSpecialIP reports addresses a job should never reach by accident:
// loopback, RFC 1918 and unique-local, link-local, multicast, unspecified,
// 0.0.0.0/8, 240.0.0.0/4 and the IPv6 documentation prefix.
func isSpecialIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 0 || ip4[0] >= 240
	}
	// deprecated site-local fec0::/10
	if ip[0] == 0xfe && ip[1]&0xc0 == 0xc0 {
		return true
	}
	return documentationV6.Contains(ip)
}

func isLocalhost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "localhost" ||
		host == "localhost.localdomain" ||
		strings.HasSuffix(host, ".localhost")
}
