package thingspeak

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// Transport tuning for the channel client.
const (
	dialTimeout         = 5 * time.Second
	tlsHandshakeTimeout = 5 * time.Second
	idleConnTimeout     = 90 * time.Second
	maxIdleConns        = 16
	h2ReadIdleTimeout   = 30 * time.Second
	h2PingTimeout       = 10 * time.Second
)

// NewHTTPClient builds an HTTP/2-capable client whose connections are
// health-checked with pings so a silently dropped link does not stall polls.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		IdleConnTimeout:     idleConnTimeout,
		MaxIdleConns:        maxIdleConns,
		ForceAttemptHTTP2:   true,
	}
	h2, err := http2.ConfigureTransports(t)
	if err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	h2.ReadIdleTimeout = h2ReadIdleTimeout
	h2.PingTimeout = h2PingTimeout

	return &http.Client{Timeout: timeout, Transport: t}, nil
}
