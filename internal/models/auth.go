package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims carries the authenticated actor identity attached to every
// mutating request. Role resolution and permission grants live in the
// surrounding platform; this service only needs the actor for audit
// fields and the permission oracle.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
