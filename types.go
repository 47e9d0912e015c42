package sessionkit

import (
	"context"
	"strings"
	"time"
)

// Mode identifies the authentication pathway that produced a Session.
type Mode uint8

const (
	// ModeEmbedded sessions come from the configured fixed-credential allow-list.
	ModeEmbedded Mode = iota + 1
	// ModeDelegated sessions come from the external identity provider.
	ModeDelegated
)

func (m Mode) String() string {
	switch m {
	case ModeEmbedded:
		return "embedded"
	case ModeDelegated:
		return "delegated"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(v string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "embedded":
		return ModeEmbedded, true
	case "delegated":
		return ModeDelegated, true
	default:
		return 0, false
	}
}

// Role is the coarse role attached to a Session.
type Role string

const (
	// RoleUser is the default role.
	RoleUser Role = "user"
	// RoleAdmin marks administrative subjects.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Session is one authenticated context. Sessions are values: the Manager replaces
// the current Session wholesale and never mutates one in place.
type Session struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	DisplayName  string    `json:"display_name"`
	ContactEmail string    `json:"contact_email"`
	Role         Role      `json:"role"`
	PlanTier     string    `json:"plan_tier,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	AccessToken  string    `json:"-"`
	Mode         Mode      `json:"mode"`
}

// Profile holds the descriptive attributes of a subject.
type Profile struct {
	SubjectID   string `json:"subject_id" yaml:"subject_id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Email       string `json:"email" yaml:"email"`
	Role        Role   `json:"role" yaml:"role"`
	PlanTier    string `json:"plan_tier,omitempty" yaml:"plan_tier"`
}

// EmbeddedIdentity is one entry of the fixed-credential allow-list. Exactly one of
// Secret (plaintext, for demos and tests) or SecretHash (argon2id PHC string) is set.
type EmbeddedIdentity struct {
	Identifier string  `yaml:"identifier"`
	Secret     string  `yaml:"secret"`
	SecretHash string  `yaml:"secret_hash"`
	Profile    Profile `yaml:"profile"`
}

// State is the Manager's lifecycle state.
type State uint8

const (
	// StateUninitialized is the state before Initialize.
	StateUninitialized State = iota
	// StateRestoring is the state while a session is being restored or verified.
	StateRestoring
	// StateAuthenticated means a current Session exists.
	StateAuthenticated
	// StateAnonymous means there is no current Session.
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRestoring:
		return "restoring"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Snapshot is what subscribers observe: the state and, when authenticated, the Session.
type Snapshot struct {
	State   State
	Session *Session
}

// PendingConfirmation tracks an email address that registered but has not yet
// confirmed control of its inbox.
type PendingConfirmation struct {
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"created_at"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
}

// RegisterResult is returned by Manager.Register.
type RegisterResult struct {
	SubjectID         string
	NeedsConfirmation bool
}

// InitResult describes how Initialize settled. Reason is informational: the Manager
// has already recovered to a consistent state when it is set.
type InitResult struct {
	State      State
	Session    *Session
	Reason     error
	Superseded bool
}

// RemoteSession is what an identity provider reports for an authenticated subject.
type RemoteSession struct {
	SubjectID   string
	AccessToken string
}

// AuthEventType enumerates provider-pushed events.
type AuthEventType uint8

const (
	// EventSignedIn is pushed when the provider established a session.
	EventSignedIn AuthEventType = iota + 1
	// EventSignedOut is pushed when the provider ended the session.
	EventSignedOut
)

func (t AuthEventType) String() string {
	switch t {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// AuthEvent is a provider-pushed authentication change.
type AuthEvent struct {
	Type    AuthEventType
	Session RemoteSession
}

// SignUpResult is returned by IdentityProvider.SignUp.
type SignUpResult struct {
	SubjectID         string
	NeedsConfirmation bool
}

// CodeStatus is the outcome of CodeIssuer.VerifyCode.
type CodeStatus uint8

const (
	// CodeInvalid means the code is unknown, already used or superseded.
	CodeInvalid CodeStatus = iota
	// CodeValid means the code matched and is now consumed.
	CodeValid
	// CodeExpired means the code matched but its lifetime elapsed.
	CodeExpired
)

func (s CodeStatus) String() string {
	switch s {
	case CodeValid:
		return "valid"
	case CodeExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// IdentityProvider is the delegated-mode capability. Implementations return
// ErrInvalidCredentials for definite rejections and ErrIdentityExists on duplicate
// sign-up; every other error is treated as ErrProviderUnavailable.
type IdentityProvider interface {
	SignIn(ctx context.Context, identifier, secret string) (RemoteSession, error)
	SignUp(ctx context.Context, identifier, secret string, profile Profile) (SignUpResult, error)
	SignOut(ctx context.Context, accessToken string) error
	// CurrentSession reports an existing remote session; ok is false when there is none.
	CurrentSession(ctx context.Context) (session RemoteSession, ok bool, err error)
	// OnAuthEvent registers handler and returns a function that removes it.
	OnAuthEvent(handler func(AuthEvent)) (unsubscribe func())
	ResendConfirmation(ctx context.Context, email string) error
}

// ProfileProvider resolves subjects to profiles. Unknown subjects yield ErrProfileNotFound.
type ProfileProvider interface {
	GetProfile(ctx context.Context, subjectID string) (Profile, error)
}

// CodeIssuer issues and verifies one-time recovery codes and commits new secrets.
// CommitNewSecret returns ErrCodeInvalid when the code is not the verified one.
type CodeIssuer interface {
	IssueCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) (CodeStatus, error)
	CommitNewSecret(ctx context.Context, email, code, secret string) error
}
