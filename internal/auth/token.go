// Package auth issues and verifies the bearer tokens that identify residents,
// guards and administrators.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatepass/access-server/internal/model"
)

const issuer = "gatepass"

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the actor identity. The subject is the actor id.
type Claims struct {
	OrganizationID string     `json:"org"`
	Role           model.Role `json:"role"`
	UnitID         string     `json:"unit,omitempty"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	now    func() time.Time
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret), now: time.Now}
}

// Issue signs an HS256 token for actor valid for ttl.
func (s *TokenService) Issue(actor *model.Actor, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		OrganizationID: actor.OrganizationID,
		Role:           actor.Role,
		UnitID:         actor.UnitID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks signature, issuer and expiry and returns the actor.
func (s *TokenService) Verify(tokenString string) (*model.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" || claims.OrganizationID == "" {
		return nil, fmt.Errorf("%w: missing subject or organization", ErrInvalidToken)
	}
	switch claims.Role {
	case model.RoleResident:
		if claims.UnitID == "" {
			return nil, fmt.Errorf("%w: resident token without unit", ErrInvalidToken)
		}
	case model.RoleGuard, model.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return &model.Actor{
		ID:             claims.Subject,
		OrganizationID: claims.OrganizationID,
		Role:           claims.Role,
		UnitID:         claims.UnitID,
	}, nil
}
