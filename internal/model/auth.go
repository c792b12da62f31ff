package model

// AuthState is the identity the router currently routes for
type AuthState struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	UserID          string `json:"user_id,omitempty"`
}

// Anonymous is the signed-out state
var Anonymous = AuthState{}
