package chanmgr

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// DialFunc opens a raw TCP connection for a channel launcher. The link
// handshake on top of it is the launcher's business.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// DirectDialer dials relays directly.
func DirectDialer() DialFunc {
	d := &net.Dialer{}
	return d.DialContext
}

// SOCKS5Dialer dials relays through an upstream SOCKS5 proxy, for
// deployments where direct connections are filtered.
func SOCKS5Dialer(proxyAddr string, auth *proxy.Auth) (DialFunc, error) {
	d, err := proxy.SOCKS5("tcp", proxyAddr, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
	}
	return cd.DialContext, nil
}
