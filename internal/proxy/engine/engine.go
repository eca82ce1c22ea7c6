// Package engine implements the shared TCP Protocol Proxy mechanics (C8): accept a client
// connection, pair it 1:1 with a freshly opened backend connection, and forward bytes in
// both directions until either side closes. Protocol-specific packages (postgres, mysql,
// mongo, redisproxy) supply an Inspector that gets a look at each direction's bytes before
// they are forwarded.
package engine

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"
)

// Risk is the severity of an audited event.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// AuditRecord is one proxied operation or connection event, the unit the engine hands to
// an Auditor. Proto identifies which wire protocol produced it (postgres, mysql, mongo,
// redis).
type AuditRecord struct {
	Proto     string
	ClientIP  string
	User      string
	Database  string
	Operation string
	Target    string
	Snippet   string
	Risk      Risk
	Result    string
	Duration  time.Duration
	Timestamp time.Time
}

// Auditor receives audit records off the connection's hot path. Implementations must not
// block the caller for long; the gateway wires this to internal/batch so audit-sink I/O is
// decoupled from the proxy loop.
type Auditor interface {
	Record(rec AuditRecord)
}

// Verdict is an Inspector's decision about a chunk of client-to-backend traffic.
type Verdict struct {
	// Block, if true, stops the chunk from reaching the backend. Response, if non-nil, is
	// written to the client in its place before the connection is closed.
	Block    bool
	Response []byte
	Audit    *AuditRecord
}

// Inspector is the protocol-specific hook the engine calls with every chunk of
// client-to-backend traffic before forwarding it. Implementations are free to be
// stateful per connection; Config.NewInspector is called once per accepted connection to
// produce one.
type Inspector interface {
	// Inspect examines a chunk of client→backend bytes and returns a Verdict. clientIP is
	// fixed for the life of the connection.
	Inspect(clientIP string, chunk []byte) Verdict
}

// InspectorFactory builds one Inspector per accepted connection, so protocol state
// (resolved user/database, inTransaction) never leaks across connections.
type InspectorFactory func() Inspector

// BackendDialer opens a fresh connection to the configured primary backend for one client
// connection.
type BackendDialer func(ctx context.Context) (net.Conn, error)

// MetricsRecorder receives a count for every connection the Inspector chain blocks. It lets
// the engine package stay free of a concrete metrics dependency.
type MetricsRecorder interface {
	RecordProxyBlock(protocol, rule string)
}

// Config wires one protocol's listener to its backend and inspector.
type Config struct {
	Proto        string
	ListenAddr   string
	DialBackend  BackendDialer
	NewInspector InspectorFactory
	Auditor      Auditor
	Metrics      MetricsRecorder
	Logger       *slog.Logger
}

// Proxy accepts client connections on ListenAddr and pairs each with a backend connection
// per Config.DialBackend, per spec §4.8/§5's single-threaded-per-connection, no-retry
// proxy model.
type Proxy struct {
	cfg      Config
	logger   *slog.Logger
	listener net.Listener
}

// New constructs a Proxy from cfg. It does not start listening until Serve is called.
func New(cfg Config) *Proxy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{cfg: cfg, logger: logger.With("component", "proxy."+cfg.Proto)}
}

// Serve listens on p.cfg.ListenAddr and handles connections until ctx is cancelled or
// Serve's listener errors. Each accepted connection is handled in its own goroutine.
func (p *Proxy) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return err
	}
	p.listener = ln
	p.logger.Info("listening", "addr", p.cfg.ListenAddr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				p.logger.Error("accept failed", "error", err)
				return err
			}
		}
		go p.handle(ctx, conn)
	}
}

// Close stops accepting new connections.
func (p *Proxy) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

func (p *Proxy) handle(ctx context.Context, client net.Conn) {
	defer client.Close()
	clientIP := remoteIP(client)
	started := time.Now()

	backend, err := p.cfg.DialBackend(ctx)
	if err != nil {
		p.logger.Warn("backend dial failed", "client", clientIP, "error", err)
		p.audit(AuditRecord{
			Proto: p.cfg.Proto, ClientIP: clientIP, Operation: "CONNECT",
			Risk: RiskMedium, Result: "CONNECTION_ERROR", Timestamp: started,
			Duration: time.Since(started),
		})
		return
	}
	defer backend.Close()

	inspector := p.cfg.NewInspector()

	done := make(chan struct{}, 2)
	go p.pipeClientToBackend(client, backend, clientIP, inspector, done)
	go p.pipeBackendToClient(backend, client, done)
	<-done
}

// pipeClientToBackend forwards client→backend traffic one read at a time, giving the
// Inspector a chance to block dangerous operations before they reach the backend.
func (p *Proxy) pipeClientToBackend(client, backend net.Conn, clientIP string, inspector Inspector, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	buf := make([]byte, 32*1024)
	for {
		n, err := client.Read(buf)
		if n > 0 {
			verdict := inspector.Inspect(clientIP, buf[:n])
			if verdict.Audit != nil {
				p.audit(*verdict.Audit)
			}
			if verdict.Block {
				if len(verdict.Response) > 0 {
					_, _ = client.Write(verdict.Response)
				}
				if p.cfg.Metrics != nil {
					rule := "blocked"
					if verdict.Audit != nil && verdict.Audit.Operation != "" {
						rule = verdict.Audit.Operation
					}
					p.cfg.Metrics.RecordProxyBlock(p.cfg.Proto, rule)
				}
				return
			}
			if _, werr := backend.Write(buf[:n]); werr != nil {
				p.auditConnError(clientIP)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				p.auditConnError(clientIP)
			}
			return
		}
	}
}

func (p *Proxy) pipeBackendToClient(backend, client net.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	_, _ = io.Copy(client, backend)
}

func (p *Proxy) auditConnError(clientIP string) {
	p.audit(AuditRecord{
		Proto: p.cfg.Proto, ClientIP: clientIP, Operation: "STREAM",
		Risk: RiskMedium, Result: "CONNECTION_ERROR", Timestamp: time.Now(),
	})
}

func (p *Proxy) audit(rec AuditRecord) {
	if p.cfg.Auditor == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	p.cfg.Auditor.Record(rec)
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
