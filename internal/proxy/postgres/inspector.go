// Package postgres implements the TCP Protocol Proxy's Postgres front-end (C8's
// representative protocol): startup-message parsing, simple-query interdiction against a
// deny-list, and audit emission, wired to the shared engine.Proxy for connection pairing.
package postgres

import (
	"bytes"
	"encoding/binary"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/familyhub/gateway/internal/proxy/engine"
)

// DefaultDenyPatterns are matched case-insensitively against simple-query SQL text.
// Spec-mandated baseline; operators may extend it via config.
var DefaultDenyPatterns = []string{
	"DROP DATABASE",
	"DROP SCHEMA",
	"TRUNCATE TABLE",
	"DELETE FROM",
	"ALTER SYSTEM",
	"CREATE ROLE",
	"DROP ROLE",
}

// sslRequestCode is the magic length+code pair a client sends to probe for TLS support
// before the real startup message; the gateway does not terminate TLS, so the probe is
// forwarded unchanged and answered by the backend.
const sslRequestCode = 80877103

// Inspector parses Postgres wire traffic at the message boundary, enforcing the deny-list
// on simple queries. One Inspector is created per connection by Factory.
type Inspector struct {
	denyPatterns []string

	buf          []byte
	startupDone  bool
	user         string
	database     string
	inTxn        bool
}

// Factory returns an engine.InspectorFactory bound to denyPatterns (falls back to
// DefaultDenyPatterns when empty).
func Factory(denyPatterns []string) engine.InspectorFactory {
	patterns := denyPatterns
	if len(patterns) == 0 {
		patterns = DefaultDenyPatterns
	}
	return func() engine.Inspector {
		return &Inspector{denyPatterns: patterns}
	}
}

// Inspect implements engine.Inspector. It buffers partial frames across calls and examines
// complete messages in order, returning the first blocking verdict as soon as one is found,
// or else the most recent verdict that carried an audit record.
func (in *Inspector) Inspect(clientIP string, chunk []byte) engine.Verdict {
	in.buf = append(in.buf, chunk...)

	if !in.startupDone {
		consumed, ok := in.tryParseStartup()
		if !ok {
			in.buf = in.buf[consumed:]
			return engine.Verdict{}
		}
		in.buf = in.buf[consumed:]
		in.startupDone = true
	}

	var last engine.Verdict
	for {
		typ, payload, total, ok := peekMessage(in.buf)
		if !ok {
			break
		}
		in.buf = in.buf[total:]
		verdict := in.handleMessage(clientIP, typ, payload)
		if verdict.Block {
			return verdict
		}
		if verdict.Audit != nil {
			last = verdict
		}
	}
	return last
}

// tryParseStartup attempts to parse a Postgres startup (or SSLRequest) message from the
// front of in.buf, returning how many bytes it consumed and whether it found a complete
// message.
func (in *Inspector) tryParseStartup() (int, bool) {
	if len(in.buf) < 8 {
		return 0, false
	}
	length := int(binary.BigEndian.Uint32(in.buf[0:4]))
	if length < 8 || len(in.buf) < length {
		return 0, false
	}
	code := binary.BigEndian.Uint32(in.buf[4:8])
	if code == sslRequestCode {
		// The probe is consumed here (and forwarded unchanged); the real startup message
		// follows once the backend has answered it.
		return length, false
	}

	params := in.buf[8:length]
	parts := bytes.Split(bytes.TrimRight(params, "\x00"), []byte{0})
	for i := 0; i+1 < len(parts); i += 2 {
		key := string(parts[i])
		val := string(parts[i+1])
		switch key {
		case "user":
			in.user = val
		case "database":
			in.database = val
		}
	}
	if in.database == "" {
		in.database = in.user
	}
	return length, true
}

// peekMessage extracts one complete <type:1><length:4 BE><payload> frame from buf, per
// spec §4.8's wire framing. length includes itself but not the type byte.
func peekMessage(buf []byte) (typ byte, payload []byte, total int, ok bool) {
	if len(buf) < 5 {
		return 0, nil, 0, false
	}
	typ = buf[0]
	length := int(binary.BigEndian.Uint32(buf[1:5]))
	total = 1 + length
	if len(buf) < total {
		return 0, nil, 0, false
	}
	return typ, buf[5:total], total, true
}

func (in *Inspector) handleMessage(clientIP string, typ byte, payload []byte) engine.Verdict {
	switch typ {
	case 'Q':
		return in.handleSimpleQuery(clientIP, payload)
	case 'P':
		return engine.Verdict{Audit: in.record(clientIP, "PARSE", "", engine.RiskLow, "OK")}
	case 'B':
		return engine.Verdict{Audit: in.record(clientIP, "BIND", "", engine.RiskLow, "OK")}
	case 'E':
		return engine.Verdict{Audit: in.record(clientIP, "EXECUTE", "", engine.RiskLow, "OK")}
	case 'X':
		return engine.Verdict{Audit: in.record(clientIP, "TERMINATE", "", engine.RiskLow, "OK")}
	default:
		return engine.Verdict{}
	}
}

func (in *Inspector) handleSimpleQuery(clientIP string, payload []byte) engine.Verdict {
	sql := string(bytes.TrimRight(payload, "\x00"))
	if pattern, blocked := matchDenyList(sql, in.denyPatterns); blocked {
		rec := in.record(clientIP, "QUERY", sql, engine.RiskHigh, "DANGEROUS_OPERATION_BLOCKED")
		return engine.Verdict{
			Block:    true,
			Response: synthesizeError(pattern),
			Audit:    rec,
		}
	}
	updateTxnState(&in.inTxn, sql)
	return engine.Verdict{Audit: in.record(clientIP, "QUERY", sql, engine.RiskLow, "OK")}
}

func (in *Inspector) record(clientIP, op, snippet string, risk engine.Risk, result string) *engine.AuditRecord {
	return &engine.AuditRecord{
		Proto:     "postgres",
		ClientIP:  clientIP,
		User:      in.user,
		Database:  in.database,
		Operation: op,
		Target:    in.database,
		Snippet:   truncate(snippet, 160),
		Risk:      risk,
		Result:    result,
		Timestamp: time.Now(),
	}
}

// matchDenyList reports whether sql contains any denyPatterns entry, case-insensitively.
func matchDenyList(sql string, denyPatterns []string) (string, bool) {
	upper := strings.ToUpper(sql)
	for _, pattern := range denyPatterns {
		if strings.Contains(upper, pattern) {
			return pattern, true
		}
	}
	return "", false
}

// updateTxnState tracks BEGIN/COMMIT/ROLLBACK for the connection's inTransaction flag.
func updateTxnState(inTxn *bool, sql string) {
	switch strings.ToUpper(strings.TrimSpace(sql)) {
	case "BEGIN", "START TRANSACTION":
		*inTxn = true
	case "COMMIT", "ROLLBACK":
		*inTxn = false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// synthesizeError builds a wire-format Postgres ErrorResponse rejecting a denied query,
// per spec §4.8's "synthesize a wire-format error response back to the client".
func synthesizeError(pattern string) []byte {
	err := &pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     "42501", // insufficient_privilege
		Message:  "operation blocked by gateway policy: matches denied pattern \"" + pattern + "\"",
	}
	return err.Encode(nil)
}
