package request

// AuthRequest is the request body for PUT /auth
type AuthRequest struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	UserID          string `json:"user_id,omitempty"`
}

// ConnectivityRequest is the request body for PUT /connectivity
type ConnectivityRequest struct {
	Online bool `json:"online"`
}

// ProviderRequest is the request body for PUT /provider
type ProviderRequest struct {
	Name string `json:"name"`
}
