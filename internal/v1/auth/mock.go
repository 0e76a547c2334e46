package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/types"
)

// MockHook is a development-only authenticate hook that accepts any token
// and extracts the "sub" claim without verifying the signature, so the
// connecting client's userId is stable across reconnects during local
// development.
func MockHook() hooks.AuthHook {
	return func(_ context.Context, _ any, authData any) (types.AuthData, error) {
		m, _ := authData.(map[string]any)
		token, _ := m["token"].(string)

		sub := "dev-user"
		if parts := strings.Split(token, "."); len(parts) == 3 {
			if payload, err := base64.RawURLEncoding.DecodeString(parts[1]); err == nil {
				var raw map[string]any
				if json.Unmarshal(payload, &raw) == nil {
					if s, ok := raw["sub"].(string); ok && s != "" {
						sub = s
					}
				}
			}
		}
		return types.AuthData{JWT: types.JWTClaims{Sub: sub}}, nil
	}
}
