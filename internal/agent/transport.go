package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// newHTTPClient builds the http.Client shared by all calls to one agent,
// honoring the outbound proxy configuration. Redirects are not followed: a
// web shell answers in place, and a redirect usually means a login portal or
// WAF got in the way — the body should reach the ack check instead.
func newHTTPClient(opts Options) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}

		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks5":
			var auth *xproxy.Auth
			if u.User != nil {
				pass, _ := u.User.Password()
				auth = &xproxy.Auth{User: u.User.Username(), Password: pass}
			}
			d, err := xproxy.SOCKS5("tcp", u.Host, auth, xproxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("socks5 proxy: %w", err)
			}
			transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
				if cd, ok := d.(xproxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, address)
				}
				return d.Dial(network, address)
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}
