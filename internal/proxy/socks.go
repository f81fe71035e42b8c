// Package proxy builds the HTTP clients for outbound calls. Only the hosted
// model APIs go through the SOCKS5 proxy; local services are dialed directly.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// NewClient returns a plain client when socksAddr is empty and a client
// tunnelled through the SOCKS5 proxy otherwise.
func NewClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if socksAddr == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", socksAddr, err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// Clients pairs the client for hosted APIs with a direct one for local
// services such as a whisper server or a LAN webhook.
type Clients struct {
	API   *http.Client
	Local *http.Client
}

// NewClients proxies only the API client.
func NewClients(socksAddr string, timeout time.Duration) (Clients, error) {
	api, err := NewClient(socksAddr, timeout)
	if err != nil {
		return Clients{}, err
	}
	local, err := NewClient("", timeout)
	if err != nil {
		return Clients{}, err
	}
	return Clients{API: api, Local: local}, nil
}
