// Package mysql wires the shared proxy engine to a MySQL backend. Unlike postgres, it does
// not parse wire traffic — spec.md names Postgres as the protocol worth deep inspection;
// MySQL is forwarded byte-for-byte with connection pairing and audit only.
package mysql

import (
	"context"
	"fmt"
	"net"

	"github.com/familyhub/gateway/internal/proxy/engine"
)

// Dialer opens a connection to host:port, the configured MySQL backend.
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
