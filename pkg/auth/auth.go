// Package auth resolves handshake credentials into identities. The primary
// credential is an HMAC-signed JWT; a plain identity descriptor is accepted as
// a fallback for clients that have no token service in front of them.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arush/chatcore/pkg/errs"
	"github.com/arush/chatcore/pkg/model"
)

type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type contextKey string

// IdentityKey is the request-context key HTTP middleware stores the resolved
// identity under.
const IdentityKey contextKey = "identity"

// Credential is what a connection presents on authenticate: either a signed
// token or a bare descriptor.
type Credential struct {
	Token string `json:"token,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: 24 * time.Hour}
}

// GenerateToken mints a signed token for the given identity.
func (a *Authenticator) GenerateToken(id model.Identity) (string, error) {
	claims := &Claims{
		Name: id.Name,
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses and verifies a token, returning the embedded identity.
func (a *Authenticator) ValidateToken(tokenString string) (model.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return model.Identity{}, errs.New(errs.InvalidToken, "invalid or expired token")
	}
	if claims.Subject == "" {
		return model.Identity{}, errs.New(errs.InvalidToken, "token missing subject")
	}
	return model.Identity{ID: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}

// Resolve turns a credential into an identity. Token wins when present;
// otherwise the descriptor is accepted as-is with a default role.
func (a *Authenticator) Resolve(c Credential) (model.Identity, error) {
	if c.Token != "" {
		return a.ValidateToken(c.Token)
	}
	if c.ID == "" {
		return model.Identity{}, errs.New(errs.AuthRequired, "no credential supplied")
	}
	role := c.Role
	if role == "" {
		role = "member"
	}
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return model.Identity{ID: c.ID, Name: name, Role: role}, nil
}
