package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// ClientKey 是 context 中保存已鉴权 API Key 的键。
type ClientKey struct{}

// APIKeyAuth 创建 API Key 鉴权中间件。
// 接受 "Authorization: ApiKey <token>" 或 "X-API-Key: <token>"。
func APIKeyAuth(validKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(validKeys))
	for _, key := range validKeys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, []byte(trimmed))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, msg := extractAPIKey(r)
			if msg != "" {
				writeAuthError(w, msg)
				return
			}
			if !matchKey(keys, apiKey) {
				writeAuthError(w, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), ClientKey{}, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientFromContext 返回请求使用的 API Key，未鉴权时为空。
func ClientFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ClientKey{}).(string); ok {
		return v
	}
	return ""
}

func extractAPIKey(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, ""
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "missing Authorization header"
	}

	const prefix = "ApiKey "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", "invalid Authorization format, expected: ApiKey <token>"
	}
	apiKey := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	if apiKey == "" {
		return "", "empty API key"
	}
	return apiKey, ""
}

// matchKey 逐个做常量时间比较。
func matchKey(keys [][]byte, candidate string) bool {
	c := []byte(candidate)
	matched := 0
	for _, k := range keys {
		matched |= subtle.ConstantTimeCompare(k, c)
	}
	return matched == 1
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `ApiKey realm="objectstore"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
