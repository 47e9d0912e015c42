package flows

import (
	"context"
	"strings"
)

// Rate-limit key namespaces. Each namespace is throttled by its own policy.
const (
	KeyLogin          = "login:"
	KeyRegister       = "register:"
	KeyConfirm        = "confirm:"
	KeyRecovery       = "recovery:"
	KeyRecoveryVerify = "recovery-verify:"
)

// RateKey builds the limiter key for identifier in namespace.
func RateKey(namespace, identifier string) string {
	return namespace + NormalizeIdentifier(identifier)
}

// NormalizeIdentifier lower-cases and trims identifiers so throttling and
// embedded matching are case-insensitive.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Profile is the flow-local profile shape.
type Profile struct {
	SubjectID   string
	DisplayName string
	Email       string
	Role        string
	PlanTier    string
}

// Throttle bundles the three limiter operations for one policy.
type Throttle struct {
	// Check returns nil when allowed, or a rate-limit error carrying the wait.
	Check  func(ctx context.Context, key string) error
	Record func(ctx context.Context, key string) error
	Clear  func(ctx context.Context, key string) error
}

func (t Throttle) check(ctx context.Context, key string) error {
	if t.Check == nil {
		return nil
	}
	return t.Check(ctx, key)
}

func (t Throttle) record(ctx context.Context, key string, warn func(string, ...any)) {
	if t.Record == nil {
		return
	}
	if err := t.Record(ctx, key); err != nil {
		warn("sessionkit: record attempt failed", "key_namespace", namespaceOf(key), "error", err)
	}
}

func (t Throttle) clear(ctx context.Context, key string, warn func(string, ...any)) {
	if t.Clear == nil {
		return
	}
	if err := t.Clear(ctx, key); err != nil {
		warn("sessionkit: clear attempts failed", "key_namespace", namespaceOf(key), "error", err)
	}
}

func namespaceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// AuditFunc emits one audit event. meta is only invoked when auditing is on.
type AuditFunc func(ctx context.Context, event string, success bool, subjectID string, err error, meta func() map[string]string)

// Observers groups the ambient hooks every flow accepts.
type Observers struct {
	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(msg string, kv ...any)
}

func (o *Observers) normalize() {
	if o.MetricInc == nil {
		o.MetricInc = func(int) {}
	}
	if o.EmitAudit == nil {
		o.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if o.Warn == nil {
		o.Warn = func(string, ...any) {}
	}
}
