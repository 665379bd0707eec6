package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for the operator surface.
// Tokens are short-lived access tokens; there is no refresh flow.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
	Role   string `json:"role"`
}
