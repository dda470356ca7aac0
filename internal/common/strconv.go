package common

import (
	"net/http"
	"strconv"
	"strings"
)

// QueryInt reads an integer query parameter. Missing or malformed values, and
// values outside [lo, hi], yield def.
func QueryInt(r *http.Request, key string, def, lo, hi int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return def
	}
	return v
}
