package authz

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"escrowflow/escrow"
)

// Tokens issues and verifies signed actor tokens. The surrounding
// authentication middleware is an external collaborator; this is only the
// bridge from a bearer token to an escrow actor.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed token for an actor.
func (t *Tokens) Issue(actor escrow.Actor) (string, error) {
	claims := jwt.MapClaims{
		"actor_id": actor.ID,
		"role":     actor.Role,
		"exp":      time.Now().Add(t.ttl).Unix(),
		"iat":      time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("authz: sign token: %w", err)
	}
	return signed, nil
}

// ParseActor validates a token and extracts the actor it names.
func (t *Tokens) ParseActor(tokenString string) (escrow.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return escrow.Actor{}, fmt.Errorf("authz: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return escrow.Actor{}, fmt.Errorf("authz: invalid token")
	}
	id, ok := claims["actor_id"].(string)
	if !ok || id == "" {
		return escrow.Actor{}, fmt.Errorf("authz: invalid actor_id in token")
	}
	role, ok := claims["role"].(string)
	if !ok || !validRole(role) {
		return escrow.Actor{}, fmt.Errorf("authz: invalid role in token")
	}
	return escrow.Actor{ID: id, Role: role}, nil
}

func validRole(role string) bool {
	switch role {
	case escrow.RoleBuyer, escrow.RoleSeller, escrow.RoleArbiter, escrow.RoleSystem:
		return true
	}
	return false
}
