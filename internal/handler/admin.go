package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/parkdeck/parkdeck/internal/config"
	"github.com/parkdeck/parkdeck/internal/model"
	"github.com/parkdeck/parkdeck/internal/server/middleware"
	"github.com/parkdeck/parkdeck/internal/service"
)

// SessionCookieName is the HTTP-only cookie carrying the session token for
// browser clients. API clients use the bearer header; the cookie is a
// convenience, not a second verification path.
const SessionCookieName = "parkdeck_token"

// AdminHandler serves the admin session lifecycle and the dashboard.
type AdminHandler struct {
	store      *config.Store
	auth       *service.Authenticator
	logger     *slog.Logger
	production bool
}

// NewAdminHandler creates an AdminHandler. production controls the Secure
// attribute on the session cookie.
func NewAdminHandler(store *config.Store, auth *service.Authenticator, logger *slog.Logger, production bool) *AdminHandler {
	return &AdminHandler{
		store:      store,
		auth:       auth,
		logger:     logger,
		production: production,
	}
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates an administrator and returns a session token.
// POST /api/v1/admin/session
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.auth.Login(r.Context(), service.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			writeValidationError(w, verr.Fields)
		case errors.Is(err, service.ErrInvalidCredentials):
			// Unknown account, wrong password, and locked account are
			// indistinguishable here on purpose.
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
		default:
			h.logger.Error("login failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again later.")
		}
		return
	}

	h.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, model.LoginResponse{
		Success: true,
		Token:   result.Token,
		Admin:   result.Admin,
	})
}

// Logout clears the session cookie. The token itself is not revoked and
// remains valid until its own expiry; clients must discard it.
// DELETE /api/v1/admin/session
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.production,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, model.Response{
		Success: true,
		Message: "Logged out",
	})
}

// Dashboard returns the caller's own account view plus aggregate statistics
// and the account's recent security events.
// GET /api/v1/admin/dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	admin, err := h.store.GetAdminByID(r.Context(), principal.AdminID)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "Account no longer exists")
			return
		}
		h.logger.Error("dashboard account lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again later.")
		return
	}

	adminCount, err := h.store.CountAdmins(r.Context())
	if err != nil {
		h.logger.Error("dashboard admin count failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again later.")
		return
	}
	listingCount, err := h.store.CountActiveListings(r.Context())
	if err != nil {
		h.logger.Error("dashboard listing count failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again later.")
		return
	}
	events, err := h.store.ListSecurityLog(r.Context(), admin.ID, 20)
	if err != nil {
		h.logger.Error("dashboard security log failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again later.")
		return
	}

	writeJSON(w, http.StatusOK, model.DashboardResponse{
		Success: true,
		Admin:   admin.View(),
		Stats: model.DashboardStats{
			AdminCount:     adminCount,
			ActiveListings: listingCount,
		},
		Events: events,
	})
}

// changePasswordRequest is the expected payload for the ChangePassword endpoint.
type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword rotates the authenticated administrator's password.
// PUT /api/v1/admin/password
func (h *AdminHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req changePasswordRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.auth.ChangePassword(r.Context(), principal.AdminID,
		req.CurrentPassword, req.NewPassword, clientIP(r), r.UserAgent())
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			writeValidationError(w, verr.Fields)
		case errors.Is(err, service.ErrCurrentPasswordIncorrect):
			writeError(w, http.StatusBadRequest, "Current password is incorrect")
		default:
			h.logger.Error("password change failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again later.")
		}
		return
	}

	writeJSON(w, http.StatusOK, model.Response{
		Success: true,
		Message: "Password updated",
	})
}

func (h *AdminHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.auth.TokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.production,
		SameSite: http.SameSiteStrictMode,
	})
}
