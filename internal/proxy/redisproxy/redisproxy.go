// Package redisproxy wires the shared proxy engine to a Redis backend. Byte-for-byte
// forwarder, no wire inspection — see internal/proxy/mysql for why. Named redisproxy
// rather than redis to avoid colliding with the go-redis/v9 import used elsewhere.
package redisproxy

import (
	"context"
	"fmt"
	"net"

	"github.com/familyhub/gateway/internal/proxy/engine"
)

// Dialer opens a connection to host:port, the configured Redis backend.
func Dialer(host string, port int) engine.BackendDialer {
	addr := fmt.Sprintf("%s:%d", host, port)
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// NewInspector returns the engine.InspectorFactory for this protocol: pass-through, no
// operation-level interdiction.
func NewInspector() engine.InspectorFactory {
	return engine.NewPassthrough
}
