package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/parkdeck/parkdeck/internal/config"
	"github.com/parkdeck/parkdeck/internal/model"
)

// Lockout policy: the failure that brings the consecutive count to
// LockoutThreshold locks the account for LockoutDuration.
const (
	LockoutThreshold = 5
	LockoutDuration  = 2 * time.Hour

	DefaultTokenTTL   = time.Hour
	MinPasswordLength = 8
)

var (
	// ErrInvalidCredentials is the uniform login failure. Unknown account,
	// wrong password, disabled account, and active lockout all surface as
	// this one error so callers cannot enumerate accounts or probe locks.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenMissing = errors.New("missing token")

	// ErrCurrentPasswordIncorrect is returned by ChangePassword only. The
	// caller is already authenticated there, so the enumeration concern
	// behind the uniform login error does not apply.
	ErrCurrentPasswordIncorrect = errors.New("current password incorrect")
)

// Internal reasons behind ErrInvalidCredentials. Logged for operators,
// never serialized to callers.
const (
	reasonUnknownAccount  = "unknown_account"
	reasonBadPassword     = "bad_password"
	reasonAccountLocked   = "account_locked"
	reasonAccountDisabled = "account_disabled"
)

// credentialRejection carries the internal reason for a uniform
// invalid-credentials failure. It matches ErrInvalidCredentials under
// errors.Is; the reason never reaches the response body.
type credentialRejection struct {
	reason string
}

func (e *credentialRejection) Error() string { return ErrInvalidCredentials.Error() }

func (e *credentialRejection) Is(target error) bool { return target == ErrInvalidCredentials }

// ValidationError reports malformed login or password-change input, keyed
// by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "validation failed" }

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Config holds the Authenticator's injected configuration. The bootstrap
// credentials are trusted deployment values used to lazily create the first
// admin account; they are never matched against anything but the submitted
// email.
type Config struct {
	JWTSecret         string
	TokenTTL          time.Duration
	Issuer            string
	Audience          string
	BootstrapEmail    string
	BootstrapPassword string
}

// Authenticator verifies admin credentials, enforces the lockout policy,
// and mints and verifies session tokens.
type Authenticator struct {
	store  *config.Store
	cfg    Config
	secret []byte
	logger *slog.Logger

	now func() time.Time // overridable in tests
}

// NewAuthenticator creates an Authenticator. TokenTTL defaults to one hour
// when unset.
func NewAuthenticator(store *config.Store, cfg Config, logger *slog.Logger) *Authenticator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	cfg.BootstrapEmail = NormalizeEmail(cfg.BootstrapEmail)
	return &Authenticator{
		store:  store,
		cfg:    cfg,
		secret: []byte(cfg.JWTSecret),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LoginRequest is one login attempt. IPAddress and UserAgent are recorded
// in the session list and security log.
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Admin     model.AdminView
}

// Login verifies one login attempt and, on success, mints a session.
//
// The order is deliberate: input validation, lookup, bootstrap-if-absent,
// lockout check, password check, then token issuance. All credential
// failures collapse into ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := validateLogin(req); err != nil {
		return nil, err
	}
	email := NormalizeEmail(req.Email)
	now := a.now()

	admin, err := a.store.GetAdminByEmail(ctx, email)
	switch {
	case errors.Is(err, config.ErrNotFound):
		admin, err = a.bootstrap(ctx, email, now)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("admin lookup: %w", err)
	}

	if !admin.IsActive {
		a.rejectLogin(ctx, admin, req, now, reasonAccountDisabled)
		return nil, &credentialRejection{reason: reasonAccountDisabled}
	}

	// A locked account is rejected before the password is even compared, so
	// a correct guess during the lock window looks identical to a wrong one.
	// The failure still counts; the lock timestamp is never extended.
	if admin.IsLocked(now) {
		a.rejectLogin(ctx, admin, req, now, reasonAccountLocked)
		return nil, &credentialRejection{reason: reasonAccountLocked}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)); err != nil {
		a.rejectLogin(ctx, admin, req, now, reasonBadPassword)
		return nil, &credentialRejection{reason: reasonBadPassword}
	}

	return a.establishSession(ctx, admin, req, now)
}

// bootstrap lazily creates the trusted bootstrap account when a login names
// it and no account exists yet. Any other unknown email gets the uniform
// rejection.
func (a *Authenticator) bootstrap(ctx context.Context, email string, now time.Time) (*model.AdminAccount, error) {
	if a.cfg.BootstrapEmail == "" || email != a.cfg.BootstrapEmail {
		a.logger.Warn("login rejected", "reason", reasonUnknownAccount, "email", email)
		return nil, &credentialRejection{reason: reasonUnknownAccount}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(a.cfg.BootstrapPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash bootstrap password: %w", err)
	}

	admin := &model.AdminAccount{
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleSuperAdmin,
		IsVerified:   true,
		IsActive:     true,
		LastLogin:    &now,
	}
	if err := a.store.CreateAdmin(ctx, admin); err != nil {
		// A concurrent first login may have won the insert; fall back to
		// the persisted account.
		if existing, lookupErr := a.store.GetAdminByEmail(ctx, email); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create bootstrap admin: %w", err)
	}
	a.logger.Info("bootstrap admin created", "email", email)
	return admin, nil
}

// rejectLogin applies the atomic failure bookkeeping and appends the audit
// entry for a rejected attempt. Bookkeeping errors are logged, not
// propagated: the rejection already stands on its own.
func (a *Authenticator) rejectLogin(ctx context.Context, admin *model.AdminAccount, req LoginRequest, now time.Time, reason string) {
	attempts, lockUntil, err := a.store.RecordLoginFailure(ctx, admin.ID, now, LockoutThreshold, now.Add(LockoutDuration))
	if err != nil {
		a.logger.Error("login failure bookkeeping failed", "admin_id", admin.ID, "error", err)
	}

	logArgs := []interface{}{
		"reason", reason, "admin_id", admin.ID, "attempts", attempts, "ip", req.IPAddress,
	}
	if lockUntil != nil {
		logArgs = append(logArgs, "lock_until", *lockUntil)
	}
	a.logger.Warn("login rejected", logArgs...)

	a.appendSecurityLog(ctx, admin.ID, model.ActionLogin, false, req.IPAddress, req.UserAgent, now)
}

// establishSession finalizes a successful login: counters reset, token
// issued, session registered, audit entry appended.
func (a *Authenticator) establishSession(ctx context.Context, admin *model.AdminAccount, req LoginRequest, now time.Time) (*LoginResult, error) {
	if err := a.store.RecordLoginSuccess(ctx, admin.ID, now); err != nil {
		return nil, fmt.Errorf("record login success: %w", err)
	}

	token, expiresAt, err := a.IssueToken(admin, now)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	session := &model.SessionToken{
		AdminID:   admin.ID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	}
	if err := a.store.AddSession(ctx, session); err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}

	a.appendSecurityLog(ctx, admin.ID, model.ActionLogin, true, req.IPAddress, req.UserAgent, now)
	a.logger.Info("admin logged in", "admin_id", admin.ID, "ip", req.IPAddress)

	admin.LastLogin = &now
	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Admin:     admin.View(),
	}, nil
}

func (a *Authenticator) appendSecurityLog(ctx context.Context, adminID int64, action string, success bool, ip, userAgent string, now time.Time) {
	entry := &model.SecurityLogEntry{
		AdminID:   adminID,
		Action:    action,
		Success:   success,
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
	}
	if err := a.store.AppendSecurityLog(ctx, entry); err != nil {
		a.logger.Error("security log append failed", "admin_id", adminID, "error", err)
	}
}

// TokenTTL returns the configured session token lifetime.
func (a *Authenticator) TokenTTL() time.Duration {
	return a.cfg.TokenTTL
}

// sessionClaims is the JWT payload of a session token.
type sessionClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken mints an HS256-signed session token for the account, valid
// from now for the configured TTL.
func (a *Authenticator) IssueToken(admin *model.AdminAccount, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(a.cfg.TokenTTL)
	claims := sessionClaims{
		Email: admin.Email,
		Role:  admin.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(admin.ID, 10),
			Issuer:    a.cfg.Issuer,
			Audience:  jwt.ClaimStrings{a.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Principal is the verified identity carried by a session token.
type Principal struct {
	AdminID int64
	Email   string
	Role    string
}

// VerifyToken checks the signature, expiry, issuer, and audience of a
// bearer token. It is stateless: the session list is bookkeeping only and
// is never consulted here, so a token stays valid until its own expiry
// regardless of logout or pruning.
//
// Expiry is reported as ErrTokenExpired; every other defect is
// ErrTokenInvalid.
func (a *Authenticator) VerifyToken(tokenStr string) (*Principal, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithAudience(a.cfg.Audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	adminID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return &Principal{
		AdminID: adminID,
		Email:   claims.Email,
		Role:    claims.Role,
	}, nil
}

// ChangePassword rotates an authenticated administrator's password. The
// current password must match; the new one must meet the minimum length.
// Lockout counters and outstanding sessions are left untouched, so tokens
// issued before the change remain valid until they expire.
func (a *Authenticator) ChangePassword(ctx context.Context, adminID int64, currentPassword, newPassword, ip, userAgent string) error {
	fields := map[string]string{}
	if currentPassword == "" {
		fields["currentPassword"] = "Current password is required"
	}
	if len(newPassword) < MinPasswordLength {
		fields["newPassword"] = fmt.Sprintf("New password must be at least %d characters", MinPasswordLength)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}

	admin, err := a.store.GetAdminByID(ctx, adminID)
	if err != nil {
		return fmt.Errorf("admin lookup: %w", err)
	}

	now := a.now()
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(currentPassword)); err != nil {
		a.appendSecurityLog(ctx, admin.ID, model.ActionPasswordChange, false, ip, userAgent, now)
		return ErrCurrentPasswordIncorrect
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}
	if err := a.store.UpdatePasswordHash(ctx, admin.ID, string(hash), now); err != nil {
		return fmt.Errorf("store new password: %w", err)
	}

	a.appendSecurityLog(ctx, admin.ID, model.ActionPasswordChange, true, ip, userAgent, now)
	a.logger.Info("admin password changed", "admin_id", admin.ID)
	return nil
}

func validateLogin(req LoginRequest) error {
	fields := map[string]string{}
	email := NormalizeEmail(req.Email)
	if email == "" {
		fields["email"] = "Email is required"
	} else if !emailPattern.MatchString(email) {
		fields["email"] = "Email must be a valid address"
	}
	if req.Password == "" {
		fields["password"] = "Password is required"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
