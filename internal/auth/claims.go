package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims are the only supported JWT claims shape for the ops API.
// Subject carries the operator name.
type Claims struct {
	jwt.RegisteredClaims

	TokenType TokenType `json:"token_type"`
}
