// Package auth signs and verifies the ed25519 JWTs that carry a caller's identity and role.
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles recognised by the battle endpoints.
const (
	RoleUser          = "User"
	RoleAdministrator = "Administrator"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload: "sub" is the user id, "role" its role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authority issues and checks tokens. A zero ttl issues tokens without "exp".
type Authority struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
}

// NewAuthority generates a fresh key pair at runtime.
func NewAuthority(ttl time.Duration) (*Authority, error) {
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Authority{private: private, public: public, ttl: ttl}, nil
}

// NewAuthorityFromPath reads raw ed25519 keys from disk.
func NewAuthorityFromPath(privatePath, publicPath string, ttl time.Duration) (*Authority, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("unexpected ed25519 key size")
	}
	return &Authority{
		private: ed25519.PrivateKey(privateKeyData),
		public:  ed25519.PublicKey(publicKeyData),
		ttl:     ttl,
	}, nil
}

// CreateJWT signs a token for userID with the given role.
func (a *Authority) CreateJWT(userID, role string) (string, error) {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if a.ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(a.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(a.private)
}

// AuthenticateJWT verifies a token and returns its claims.
func (a *Authority) AuthenticateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	if claims.Role != RoleUser && claims.Role != RoleAdministrator {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}

// Allows reports whether the claims hold one of roles.
func (c *Claims) Allows(roles ...string) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}
