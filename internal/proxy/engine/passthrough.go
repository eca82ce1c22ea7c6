package engine

// Passthrough is an Inspector that never blocks traffic; it is shared by the protocols for
// which the gateway only needs connection pairing and audit, not operation-level
// interdiction (mysql, mongo, redis — Postgres is the one spec.md names as representative
// for deep wire inspection).
type Passthrough struct{}

// Inspect always forwards, with no audit record.
func (Passthrough) Inspect(clientIP string, chunk []byte) Verdict {
	return Verdict{}
}

// NewPassthrough satisfies InspectorFactory for protocols that do not need per-connection
// inspector state.
func NewPassthrough() Inspector { return Passthrough{} }
