package model

// Response is the standard envelope for every API response. Failure bodies
// always carry Success=false and a user-safe Message; Errors holds per-field
// validation detail when present.
type Response struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
}

// LoginResponse is the success payload for the login endpoint.
type LoginResponse struct {
	Success bool      `json:"success"`
	Token   string    `json:"token"`
	Admin   AdminView `json:"admin"`
}

// DashboardResponse is the payload for the admin dashboard endpoint: the
// caller's own account view plus aggregate statistics.
type DashboardResponse struct {
	Success bool               `json:"success"`
	Admin   AdminView          `json:"admin"`
	Stats   DashboardStats     `json:"stats"`
	Events  []SecurityLogEntry `json:"recent_events"`
}

// DashboardStats holds the aggregate counters shown on the admin dashboard.
type DashboardStats struct {
	AdminCount     int64 `json:"admin_count"`
	ActiveListings int64 `json:"active_listings"`
}
