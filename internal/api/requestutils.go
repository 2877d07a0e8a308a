package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 输出统一的错误结构，code 为后端原生错误码（可为空）。
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorEnvelope{Error: message, Code: code})
}
