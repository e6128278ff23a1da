// Package listener defines the lifecycle shared by request listeners.
package listener

import (
	"context"
	"fmt"
	"net"
)

type Listener interface {
	Addr() string
	Start(ctx context.Context) error
	Stop() error
	Type() string
	// Ready is closed once the socket is bound and Addr is final.
	Ready() <-chan struct{}
}

// RequireLoopback rejects addresses reachable from other hosts.
func RequireLoopback(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid listener address %q: %w", address, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("listener address %q is not a loopback address", address)
}
