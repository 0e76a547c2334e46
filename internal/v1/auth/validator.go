// Package auth provides JWT validation against a JWKS endpoint and the
// authentication fallback the dialogue core uses when no authenticate hook
// is configured.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// claims is the JWT claim shape dialogue tokens are expected to carry.
type claims struct {
	jwt.RegisteredClaims
}

// Validator validates JWTs against a JWKS endpoint, checking issuer and
// audience.
type Validator struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience []string
}

// NewValidator builds a Validator backed by the JWKS document at
// https://domain/.well-known/jwks.json, cached and refreshed hourly. It
// fetches the key set once before returning so startup fails fast if the
// JWKS endpoint is unreachable.
func NewValidator(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*Validator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer URL: %w", err)
	}
	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)
	opts := append([]jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}, regOpts...)
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}
		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}
		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &Validator{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: []string{audience},
	}, nil
}

// ValidateToken parses and verifies tokenString, returning the claims
// reshaped into types.AuthData.
func (v *Validator) ValidateToken(tokenString string) (types.AuthData, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience[0]),
	)
	if err != nil {
		return types.AuthData{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return types.AuthData{}, errors.New("token is invalid")
	}
	c, ok := token.Claims.(*claims)
	if !ok {
		return types.AuthData{}, errors.New("failed to cast claims")
	}

	var exp, iat int64
	if c.ExpiresAt != nil {
		exp = c.ExpiresAt.Unix()
	}
	if c.IssuedAt != nil {
		iat = c.IssuedAt.Unix()
	}
	return types.AuthData{
		JWT: types.JWTClaims{
			Sub: c.Subject,
			Exp: exp,
			Iat: iat,
		},
	}, nil
}

// Hook adapts Validator into a hooks.AuthHook. authData is expected to be a
// map with a "token" string entry, matching the handshake auth payload
// shape described by the wire protocol.
func (v *Validator) Hook() hooks.AuthHook {
	return func(_ context.Context, _ any, authData any) (types.AuthData, error) {
		m, ok := authData.(map[string]any)
		if !ok {
			return types.AuthData{}, errors.New("auth payload must be an object")
		}
		token, _ := m["token"].(string)
		if token == "" {
			return types.AuthData{}, errors.New("auth payload missing token")
		}
		return v.ValidateToken(token)
	}
}
