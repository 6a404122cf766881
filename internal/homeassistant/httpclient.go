package homeassistant

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/proxy"
)

// TransportOptions configures the HTTP client used to reach Home Assistant.
type TransportOptions struct {
	Timeout time.Duration
	Proxy   string // SOCKS5 host:port, empty for a direct connection
}

// NewHTTPClient returns a pooled client for the Home Assistant API. Requests
// are traced through otelhttp; without a tracer provider that is a no-op.
func NewHTTPClient(opts TransportOptions) (*http.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if opts.Proxy != "" {
		socks, err := proxy.SOCKS5("tcp", opts.Proxy, nil, dialer)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", opts.Proxy, err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := socks.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return socks.Dial(network, addr)
		}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: otelhttp.NewTransport(transport),
	}, nil
}
