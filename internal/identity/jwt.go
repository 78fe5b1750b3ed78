// Package identity resolves the acting practitioner from a bearer credential.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"crvs/internal/platform/config"
	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
)

// IdentityResolver turns a bearer credential into the acting practitioner.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (id.PractitionerID, error)
}

// Claims are the access-token claims issued to registry practitioners.
type Claims struct {
	Office string `json:"office,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 access tokens and reads the practitioner from sub.
type JWTResolver struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewJWTResolver(cfg config.AuthConfig) *JWTResolver {
	return &JWTResolver{
		signingKey: []byte(cfg.JWTSigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		now:        time.Now,
	}
}

// Resolve validates signature, issuer, audience and expiry.
func (r *JWTResolver) Resolve(_ context.Context, token string) (id.PractitionerID, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return r.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(r.issuer),
		jwt.WithAudience(r.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.PractitionerID{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return id.PractitionerID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return id.PractitionerID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	practitioner, err := id.ParsePractitionerID(claims.Subject)
	if err != nil {
		return id.PractitionerID{}, dErrors.New(dErrors.CodeUnauthorized, "token subject is not a practitioner")
	}
	return practitioner, nil
}

// Issue signs an access token for practitioner. Used by workflowctl and tests;
// production tokens come from the registry's identity provider.
func (r *JWTResolver) Issue(practitioner id.PractitionerID, office string, expiresIn time.Duration) (string, error) {
	now := r.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Office: office,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   practitioner.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    r.issuer,
			Audience:  []string{r.audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(r.signingKey)
}
