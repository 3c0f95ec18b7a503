package models

import "github.com/golang-jwt/jwt/v5"

// Claims defines the structure of the JWT claims for API clients.
type Claims struct {
	ClientName string `json:"client_name"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}
