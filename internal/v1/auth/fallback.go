package auth

import "github.com/dialoguehq/dialogue/internal/v1/types"

// ResolveUserID implements the legacy authentication fallback used when no
// authenticate hook is configured: prefer auth.userId, else auth.token, else
// the transport's connection id.
func ResolveUserID(authPayload any, connID types.ConnectionID) types.UserID {
	m, ok := authPayload.(map[string]any)
	if !ok {
		return types.UserID(connID)
	}
	if uid, ok := m["userId"].(string); ok && uid != "" {
		return types.UserID(uid)
	}
	if token, ok := m["token"].(string); ok && token != "" {
		return types.UserID(token)
	}
	return types.UserID(connID)
}
