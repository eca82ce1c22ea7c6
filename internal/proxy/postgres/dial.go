package postgres

import (
	"context"
	"fmt"
	"net"

	"github.com/familyhub/gateway/internal/proxy/engine"
)

// Dialer opens a connection to host:port, the configured Postgres primary.
func Dialer(host string, port int) engine.BackendDialer {
	addr := fmt.Sprintf("%s:%d", host, port)
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}
