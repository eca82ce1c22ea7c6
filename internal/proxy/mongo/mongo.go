// Package mongo wires the shared proxy engine to a MongoDB backend. Byte-for-byte
// forwarder, no wire inspection — see internal/proxy/mysql for why.
package mongo

import (
	"context"
	"fmt"
	"net"

	"github.com/familyhub/gateway/internal/proxy/engine"
)

// Dialer opens a connection to host:port, the configured MongoDB backend.
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
