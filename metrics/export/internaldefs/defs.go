package internaldefs

import (
	"context"

	"github.com/MrEthical07/sessionkit"
)

// Source is what exporters read on every scrape or collection.
// *sessionkit.Manager implements it.
type Source interface {
	MetricsSnapshot() sessionkit.MetricsSnapshot
	Lifecycle(ctx context.Context) sessionkit.Lifecycle
}

// CounterDef names one sessionkit counter for exporters.
type CounterDef struct {
	ID   sessionkit.MetricID
	Name string
	Help string
}

// HistogramDef names one sessionkit histogram for exporters.
type HistogramDef struct {
	ID   sessionkit.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in rendering order.
var CounterDefs = []CounterDef{
	{ID: sessionkit.MetricSignInSuccess, Name: "sessionkit_sign_in_success_total", Help: "Successful sign-ins."},
	{ID: sessionkit.MetricSignInFailure, Name: "sessionkit_sign_in_failure_total", Help: "Failed sign-ins."},
	{ID: sessionkit.MetricSignInRateLimited, Name: "sessionkit_sign_in_rate_limited_total", Help: "Sign-ins refused by the login throttle."},
	{ID: sessionkit.MetricEmbeddedSignIn, Name: "sessionkit_embedded_sign_in_total", Help: "Sign-ins satisfied by the embedded allow-list."},
	{ID: sessionkit.MetricSignOut, Name: "sessionkit_sign_out_total", Help: "Sign-out operations."},
	{ID: sessionkit.MetricRevokeFailure, Name: "sessionkit_remote_revoke_failure_total", Help: "Remote session revocations that failed."},
	{ID: sessionkit.MetricProfileMissing, Name: "sessionkit_profile_missing_total", Help: "Authenticated subjects without a profile."},
	{ID: sessionkit.MetricSessionRestored, Name: "sessionkit_session_restored_total", Help: "Sessions restored at initialization."},
	{ID: sessionkit.MetricSessionDiscarded, Name: "sessionkit_session_discarded_total", Help: "Cached sessions discarded at initialization."},
	{ID: sessionkit.MetricInitTimeout, Name: "sessionkit_init_timeout_total", Help: "Initializations settled by the watchdog."},
	{ID: sessionkit.MetricRegisterSuccess, Name: "sessionkit_register_success_total", Help: "Successful registrations."},
	{ID: sessionkit.MetricRegisterDuplicate, Name: "sessionkit_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: sessionkit.MetricRegisterRateLimited, Name: "sessionkit_register_rate_limited_total", Help: "Registrations refused by the throttle."},
	{ID: sessionkit.MetricConfirmationResent, Name: "sessionkit_confirmation_resent_total", Help: "Confirmation emails resent."},
	{ID: sessionkit.MetricRecoveryRequested, Name: "sessionkit_recovery_requested_total", Help: "Recovery flows started."},
	{ID: sessionkit.MetricRecoveryRateLimited, Name: "sessionkit_recovery_rate_limited_total", Help: "Recovery requests or verifications refused by a throttle."},
	{ID: sessionkit.MetricRecoveryCodeResent, Name: "sessionkit_recovery_code_resent_total", Help: "Recovery codes reissued."},
	{ID: sessionkit.MetricRecoveryCodeVerified, Name: "sessionkit_recovery_code_verified_total", Help: "Recovery codes accepted."},
	{ID: sessionkit.MetricRecoveryCodeRejected, Name: "sessionkit_recovery_code_rejected_total", Help: "Recovery codes rejected as invalid or expired."},
	{ID: sessionkit.MetricRecoveryCompleted, Name: "sessionkit_recovery_completed_total", Help: "Recovery flows that committed a new secret."},
	{ID: sessionkit.MetricExternalEvent, Name: "sessionkit_external_event_total", Help: "Authentication events pushed by the identity provider."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: sessionkit.MetricRestoreLatency, Name: "sessionkit_restore_latency_seconds", Help: "Time for initialization to settle."},
}

// HistogramBounds are the upper bounds of the restore latency buckets, in
// seconds, spelled the way the le label carries them.
var HistogramBounds = []string{"0.01", "0.05", "0.1", "0.25", "0.5", "1", "5", "+Inf"}

// Cumulative turns per-bucket counts into running totals, one per bound.
// Missing buckets count as zero.
func Cumulative(raw []uint64) []uint64 {
	out := make([]uint64, len(HistogramBounds))
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}

// Lifecycle gauges and audit queue counters. They are exported whether or
// not the in-process counters are enabled.
const (
	SessionStateName   = "sessionkit_session_state"
	SessionStateHelp   = "1 for the Manager's current lifecycle state, 0 for the others."
	SessionModeName    = "sessionkit_session_mode"
	SessionModeHelp    = "1 for the mode of the current Session, 0 for the other mode."
	SessionAgeName     = "sessionkit_session_age_seconds"
	SessionAgeHelp     = "Age of the current Session; 0 while anonymous."
	PendingName        = "sessionkit_pending_confirmations"
	PendingHelp        = "Pending email confirmations that are not dismissed."
	PendingUpName      = "sessionkit_pending_store_up"
	PendingUpHelp      = "1 when the pending confirmation store was readable at collection time."
	AuditBacklogName   = "sessionkit_audit_backlog"
	AuditBacklogHelp   = "Audit events queued for the sink."
	AuditDeliveredName = "sessionkit_audit_delivered_total"
	AuditDeliveredHelp = "Audit events handed to the sink."
	AuditDroppedName   = "sessionkit_audit_dropped_total"
	AuditDroppedHelp   = "Audit events dropped because the queue was full or the caller gave up."
	AuditPanicsName    = "sessionkit_audit_sink_panics_total"
	AuditPanicsHelp    = "Audit events whose sink panicked."
	StateLabel         = "state"
	ModeLabel          = "mode"
	HistogramLabel     = "le"
)

// States lists every state the state gauge reports, in rendering order.
var States = []sessionkit.State{
	sessionkit.StateUninitialized,
	sessionkit.StateRestoring,
	sessionkit.StateAuthenticated,
	sessionkit.StateAnonymous,
}

// Modes lists every mode the mode gauge reports.
var Modes = []sessionkit.Mode{sessionkit.ModeEmbedded, sessionkit.ModeDelegated}

// OneHot returns 1 when ok holds.
func OneHot(ok bool) int64 {
	if ok {
		return 1
	}
	return 0
}
