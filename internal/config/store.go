package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/parkdeck/parkdeck/internal/model"
)

// Store is Parkdeck's credential store backed by SQLite. It owns the admin
// accounts together with their session bookkeeping and security logs, plus
// the parking listings read by the public API and the dashboard aggregates.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "parkdeck.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Admin accounts
// ---------------------------------------------------------------------------

// adminRow maps 1:1 to the admin_accounts columns. lock_until_ms is stored
// as unix milliseconds so the lockout update can compare it in SQL.
type adminRow struct {
	ID                   int64          `db:"id"`
	Email                string         `db:"email"`
	PasswordHash         string         `db:"password_hash"`
	Role                 string         `db:"role"`
	IsVerified           bool           `db:"is_verified"`
	IsActive             bool           `db:"is_active"`
	LastLogin            sql.NullTime   `db:"last_login"`
	LoginAttempts        int            `db:"login_attempts"`
	LockUntilMs          sql.NullInt64  `db:"lock_until_ms"`
	PasswordResetToken   sql.NullString `db:"password_reset_token"`
	PasswordResetExpires sql.NullTime   `db:"password_reset_expires"`
	TwoFactorEnabled     bool           `db:"two_factor_enabled"`
	TwoFactorSecret      sql.NullString `db:"two_factor_secret"`
	BackupCodesJSON      string         `db:"backup_codes"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r adminRow) toModel() model.AdminAccount {
	a := model.AdminAccount{
		ID:               r.ID,
		Email:            r.Email,
		PasswordHash:     r.PasswordHash,
		Role:             r.Role,
		IsVerified:       r.IsVerified,
		IsActive:         r.IsActive,
		LoginAttempts:    r.LoginAttempts,
		TwoFactorEnabled: r.TwoFactorEnabled,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.LastLogin.Valid {
		t := r.LastLogin.Time
		a.LastLogin = &t
	}
	if r.LockUntilMs.Valid {
		t := time.UnixMilli(r.LockUntilMs.Int64).UTC()
		a.LockUntil = &t
	}
	if r.PasswordResetToken.Valid {
		v := r.PasswordResetToken.String
		a.PasswordResetToken = &v
	}
	if r.PasswordResetExpires.Valid {
		t := r.PasswordResetExpires.Time
		a.PasswordResetExpires = &t
	}
	if r.TwoFactorSecret.Valid {
		v := r.TwoFactorSecret.String
		a.TwoFactorSecret = &v
	}
	if r.BackupCodesJSON != "" {
		// Reserved field; a corrupt value is not worth failing a login over.
		_ = json.Unmarshal([]byte(r.BackupCodesJSON), &a.BackupCodes)
	}
	return a
}

// CreateAdmin inserts a new admin account. The ID, CreatedAt, and UpdatedAt
// fields on admin are populated after a successful insert.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.AdminAccount) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now
	if admin.Role == "" {
		admin.Role = model.RoleAdmin
	}

	codes := admin.BackupCodes
	if codes == nil {
		codes = []string{}
	}
	codesJSON, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("marshal backup codes: %w", err)
	}

	var lastLogin interface{}
	if admin.LastLogin != nil {
		lastLogin = *admin.LastLogin
	}

	const q = `INSERT INTO admin_accounts
		(email, password_hash, role, is_verified, is_active, last_login,
		 login_attempts, backup_codes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, q,
		admin.Email, admin.PasswordHash, admin.Role, admin.IsVerified, admin.IsActive,
		lastLogin, admin.LoginAttempts, string(codesJSON), admin.CreatedAt, admin.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get admin id: %w", err)
	}
	admin.ID = id
	return nil
}

// GetAdminByEmail returns an admin account by its normalized email.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.AdminAccount, error) {
	var row adminRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM admin_accounts WHERE email = ?", email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	admin := row.toModel()
	return &admin, nil
}

// GetAdminByID returns an admin account by ID.
func (s *Store) GetAdminByID(ctx context.Context, id int64) (*model.AdminAccount, error) {
	var row adminRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM admin_accounts WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	admin := row.toModel()
	return &admin, nil
}

// ListAdmins returns all admin accounts ordered by email.
func (s *Store) ListAdmins(ctx context.Context) ([]model.AdminAccount, error) {
	var rows []adminRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM admin_accounts ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	admins := make([]model.AdminAccount, len(rows))
	for i, r := range rows {
		admins[i] = r.toModel()
	}
	return admins, nil
}

// CountAdmins returns the number of admin accounts.
func (s *Store) CountAdmins(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admin_accounts"); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return count, nil
}

// RecordLoginFailure applies the failed-login bookkeeping for one account as
// a single atomic UPDATE, so concurrent failures cannot lose increments or
// both miss the lock transition:
//
//   - a previously set lock that has expired restarts the counter at 1 and
//     clears the lock;
//   - an active lock leaves the lock timestamp untouched and increments;
//   - otherwise the counter increments, and the increment that reaches
//     threshold sets the lock to lockUntil.
//
// It returns the post-update attempt count and lock expiry for logging.
func (s *Store) RecordLoginFailure(ctx context.Context, id int64, now time.Time, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	const q = `UPDATE admin_accounts SET
		login_attempts = CASE
			WHEN lock_until_ms IS NOT NULL AND lock_until_ms <= :now_ms THEN 1
			ELSE login_attempts + 1
		END,
		lock_until_ms = CASE
			WHEN lock_until_ms IS NOT NULL AND lock_until_ms <= :now_ms THEN NULL
			WHEN lock_until_ms IS NOT NULL THEN lock_until_ms
			WHEN login_attempts + 1 >= :threshold THEN :lock_ms
			ELSE NULL
		END,
		updated_at = :now
		WHERE id = :id`

	res, err := s.db.NamedExecContext(ctx, q, map[string]interface{}{
		"id":        id,
		"now_ms":    now.UnixMilli(),
		"now":       now,
		"threshold": threshold,
		"lock_ms":   lockUntil.UnixMilli(),
	})
	if err != nil {
		return 0, nil, fmt.Errorf("record login failure: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, nil, ErrNotFound
	}

	var state struct {
		LoginAttempts int           `db:"login_attempts"`
		LockUntilMs   sql.NullInt64 `db:"lock_until_ms"`
	}
	if err := s.db.GetContext(ctx, &state,
		"SELECT login_attempts, lock_until_ms FROM admin_accounts WHERE id = ?", id); err != nil {
		return 0, nil, fmt.Errorf("read lockout state: %w", err)
	}
	var lock *time.Time
	if state.LockUntilMs.Valid {
		t := time.UnixMilli(state.LockUntilMs.Int64).UTC()
		lock = &t
	}
	return state.LoginAttempts, lock, nil
}

// RecordLoginSuccess resets the failure counter, clears any lock, and stamps
// the last successful login.
func (s *Store) RecordLoginSuccess(ctx context.Context, id int64, now time.Time) error {
	const q = `UPDATE admin_accounts
		SET login_attempts = 0, lock_until_ms = NULL, last_login = ?, updated_at = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, now, now, id)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePasswordHash replaces the account's password hash. Lockout counters
// and existing sessions are deliberately untouched.
func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, hash string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE admin_accounts SET password_hash = ?, updated_at = ? WHERE id = ?", hash, now, id)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type sessionRow struct {
	ID          int64     `db:"id"`
	AdminID     int64     `db:"admin_id"`
	Token       string    `db:"token"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAtMs int64     `db:"expires_at_ms"`
	IPAddress   string    `db:"ip_address"`
	UserAgent   string    `db:"user_agent"`
}

func (r sessionRow) toModel() model.SessionToken {
	return model.SessionToken{
		ID:        r.ID,
		AdminID:   r.AdminID,
		Token:     r.Token,
		CreatedAt: r.CreatedAt,
		ExpiresAt: time.UnixMilli(r.ExpiresAtMs).UTC(),
		IPAddress: r.IPAddress,
		UserAgent: r.UserAgent,
	}
}

// AddSession registers a newly issued session token and, in the same
// transaction, prunes the account's expired sessions. The collection never
// retains an expired entry after a write.
func (s *Store) AddSession(ctx context.Context, session *model.SessionToken) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM admin_sessions WHERE admin_id = ? AND expires_at_ms <= ?",
		session.AdminID, session.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO admin_sessions (admin_id, token, created_at, expires_at_ms, ip_address, user_agent)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session.AdminID, session.Token, session.CreatedAt,
		session.ExpiresAt.UnixMilli(), session.IPAddress, session.UserAgent)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get session id: %w", err)
	}
	session.ID = id

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// ListSessions returns the account's session records, newest first.
func (s *Store) ListSessions(ctx context.Context, adminID int64) ([]model.SessionToken, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM admin_sessions WHERE admin_id = ? ORDER BY id DESC", adminID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]model.SessionToken, len(rows))
	for i, r := range rows {
		sessions[i] = r.toModel()
	}
	return sessions, nil
}

// PurgeExpiredSessions removes expired session records across all accounts.
// The serve loop runs this periodically; it is the TTL sweep complementing
// the per-account prune done in AddSession.
func (s *Store) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM admin_sessions WHERE expires_at_ms <= ?", now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions rows affected: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Security log
// ---------------------------------------------------------------------------

// AppendSecurityLog appends one event to the account's security log and, in
// the same transaction, evicts the oldest entries beyond the cap.
func (s *Store) AppendSecurityLog(ctx context.Context, entry *model.SecurityLogEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO admin_security_log (admin_id, action, success, ip_address, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.AdminID, entry.Action, entry.Success, entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert security log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get security log id: %w", err)
	}
	entry.ID = id

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM admin_security_log WHERE admin_id = ? AND id NOT IN (
			SELECT id FROM admin_security_log WHERE admin_id = ? ORDER BY id DESC LIMIT ?)`,
		entry.AdminID, entry.AdminID, model.MaxSecurityLogEntries); err != nil {
		return fmt.Errorf("evict security log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit security log: %w", err)
	}
	return nil
}

// ListSecurityLog returns up to limit of the account's most recent security
// events, newest first.
func (s *Store) ListSecurityLog(ctx context.Context, adminID int64, limit int) ([]model.SecurityLogEntry, error) {
	if limit <= 0 || limit > model.MaxSecurityLogEntries {
		limit = model.MaxSecurityLogEntries
	}
	var entries []model.SecurityLogEntry
	if err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM admin_security_log WHERE admin_id = ? ORDER BY id DESC LIMIT ?",
		adminID, limit); err != nil {
		return nil, fmt.Errorf("list security log: %w", err)
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// Parking listings
// ---------------------------------------------------------------------------

// CreateListing inserts a new parking listing.
func (s *Store) CreateListing(ctx context.Context, listing *model.ParkingListing) error {
	now := time.Now().UTC()
	listing.CreatedAt = now
	listing.UpdatedAt = now

	const q = `INSERT INTO parking_listings (title, address, city, price_per_hour, is_active, created_at, updated_at)
		VALUES (:title, :address, :city, :price_per_hour, :is_active, :created_at, :updated_at)`
	res, err := s.db.NamedExecContext(ctx, q, listing)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get listing id: %w", err)
	}
	listing.ID = id
	return nil
}

// ListActiveListings returns all active listings ordered by city and title.
func (s *Store) ListActiveListings(ctx context.Context) ([]model.ParkingListing, error) {
	var listings []model.ParkingListing
	if err := s.db.SelectContext(ctx, &listings,
		"SELECT * FROM parking_listings WHERE is_active = 1 ORDER BY city, title"); err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return listings, nil
}

// CountActiveListings returns the number of active listings.
func (s *Store) CountActiveListings(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM parking_listings WHERE is_active = 1"); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return count, nil
}
