// Package credentials resolves the bearer token used to authenticate REST
// and socket calls to the Service, optionally validating it against a JWKS
// endpoint before handing it out.
package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Resolver is the narrow interface the core depends on for outbound
// authentication. internal/restclient.Authorizer is satisfied by any
// Resolver.
type Resolver interface {
	Authorization(ctx context.Context) (string, error)
}

// Static hands back a fixed token, as supplied by the plugin Host at
// startup, with no validation.
type Static struct {
	Token string
}

func (s Static) Authorization(ctx context.Context) (string, error) {
	if s.Token == "" {
		return "", fmt.Errorf("no token configured")
	}
	return s.Token, nil
}

// Claims is the subset of JWT claims the resolver checks before handing a
// token to a caller.
type Claims struct {
	jwt.RegisteredClaims
}

// JWKSValidating wraps a Static token with expiry validation against a
// remote JWKS endpoint, so an expired Host-supplied token is rejected
// before internal/tokenservice ever uses it.
type JWKSValidating struct {
	jwks     keyfunc.Keyfunc
	audience string
	token    string
}

// NewJWKSValidating fetches and caches the JWKS at jwksURL and binds the
// validator to a single static token. audience may be empty to skip
// audience checking.
func NewJWKSValidating(ctx context.Context, jwksURL, token, audience string) (*JWKSValidating, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	k, err := keyfunc.NewDefaultCtx(fetchCtx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	return &JWKSValidating{jwks: k, audience: audience, token: token}, nil
}

// Authorization validates the bound token's expiry (and audience, if
// configured) on every call, returning an error instead of handing out a
// token the Service would reject.
func (v *JWKSValidating) Authorization(ctx context.Context) (string, error) {
	parsed, err := jwt.ParseWithClaims(v.token, &Claims{}, v.jwks.Keyfunc)
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return "", fmt.Errorf("invalid claims type")
	}

	if v.audience != "" {
		aud, err := claims.GetAudience()
		if err != nil {
			return "", fmt.Errorf("failed to get audience: %w", err)
		}
		found := false
		for _, a := range aud {
			if a == v.audience {
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("invalid audience")
		}
	}

	return v.token, nil
}
