package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET,HEAD,PUT,POST,DELETE,OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, Cache-Control, Content-Disposition, Content-Encoding, " +
		"Content-Language, Expires, If-Match, If-None-Match, X-API-Key, X-Amz-Acl, X-Amz-Storage-Class, " +
		"X-Amz-Server-Side-Encryption, X-Requested-With"
	// 浏览器默认读不到这些响应头
	corsExposeHeaders = "ETag, Last-Modified, X-Object-Key, X-Amz-Version-Id, X-Request-Id"
)

// CORS 生成允许指定来源访问的跨域中间件，"*" 表示允许任意来源。
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := map[string]struct{}{}
	for _, origin := range allowedOrigins {
		value := strings.TrimRight(strings.TrimSpace(origin), "/")
		switch value {
		case "":
			continue
		case "*":
			allowAll = true
		default:
			allowed[value] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowedOrigin := ""
			if origin != "" {
				if allowAll {
					allowedOrigin = "*"
				} else if _, ok := allowed[origin]; ok {
					allowedOrigin = origin
				}
			}

			if allowedOrigin != "" {
				writeCORSHeaders(w, allowedOrigin)
			}

			// 预检请求在这里结束
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if allowedOrigin == "" {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeCORSHeaders(w http.ResponseWriter, origin string) {
	headers := w.Header()
	headers.Set("Access-Control-Allow-Origin", origin)
	headers.Set("Access-Control-Allow-Methods", corsAllowMethods)
	headers.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	headers.Set("Access-Control-Expose-Headers", corsExposeHeaders)
	headers.Set("Access-Control-Max-Age", "600")

	if origin != "*" {
		headers.Add("Vary", "Origin")
		headers.Set("Access-Control-Allow-Credentials", "true")
	}
}
