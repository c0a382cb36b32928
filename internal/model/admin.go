package model

import "time"

// Admin roles. SuperAdmin exists for privilege separation on the dashboards;
// both roles pass the same authentication path.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// MaxSecurityLogEntries caps the per-account security log. Appends beyond
// the cap evict the oldest entries first.
const MaxSecurityLogEntries = 100

// AdminAccount is an administrative user of the Parkdeck dashboards.
// Passwords are stored as bcrypt hashes and must never be serialized.
//
// The two-factor and password-reset fields are reserved: they are persisted
// for forward compatibility but no current verification path consumes them.
type AdminAccount struct {
	ID           int64      `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Role         string     `json:"role" db:"role"`
	IsVerified   bool       `json:"is_verified" db:"is_verified"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty" db:"last_login"`

	// Lockout bookkeeping. LoginAttempts counts consecutive failures since
	// the last success or the last lock expiry. LockUntil is set once, on
	// the failure that reaches the threshold, and cleared only by a
	// successful login.
	LoginAttempts int        `json:"-" db:"login_attempts"`
	LockUntil     *time.Time `json:"-" db:"lock_until"`

	PasswordResetToken   *string    `json:"-" db:"password_reset_token"`
	PasswordResetExpires *time.Time `json:"-" db:"password_reset_expires"`
	TwoFactorEnabled     bool       `json:"-" db:"two_factor_enabled"`
	TwoFactorSecret      *string    `json:"-" db:"two_factor_secret"`
	BackupCodes          []string   `json:"-" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsLocked reports whether the account is currently locked out. It is
// derived from LockUntil and never stored as its own flag; a stale
// LockUntil in the past means the account is no longer locked.
func (a *AdminAccount) IsLocked(now time.Time) bool {
	return a.LockUntil != nil && now.Before(*a.LockUntil)
}

// View returns the minimal caller-facing projection of the account.
func (a *AdminAccount) View() AdminView {
	return AdminView{
		ID:        a.ID,
		Email:     a.Email,
		LastLogin: a.LastLogin,
	}
}

// AdminView is what login and dashboard responses expose about an account.
// The hash, counters, and session list never leave the server.
type AdminView struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

// SessionToken is the bookkeeping record kept for every issued session.
// It is audit data, not a revocation list: token verification is stateless
// and a pruned record does not invalidate the token itself.
type SessionToken struct {
	ID        int64     `json:"id" db:"id"`
	AdminID   int64     `json:"-" db:"admin_id"`
	Token     string    `json:"-" db:"token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	IPAddress string    `json:"ip_address" db:"ip_address"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
}

// SecurityLogEntry is one event in an account's bounded security log.
// The log is retained for visibility only; nothing reads it to make
// authorization decisions.
type SecurityLogEntry struct {
	ID        int64     `json:"id" db:"id"`
	AdminID   int64     `json:"-" db:"admin_id"`
	Action    string    `json:"action" db:"action"`
	Success   bool      `json:"success" db:"success"`
	IPAddress string    `json:"ip_address" db:"ip_address"`
	UserAgent string    `json:"user_agent" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Security log actions recorded by the authenticator.
const (
	ActionLogin          = "login"
	ActionPasswordChange = "password_change"
)
