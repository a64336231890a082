package observability

import "strings"

// Log and span attributes echo request-controlled values (chi route
// patterns, methods, actor UIDs). Strip control runes so a crafted
// header cannot forge log lines, and cap lengths.
const (
	maxRouteLen  = 180
	maxMethodLen = 10
	maxUserIDLen = 64
)

func stripControl(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		switch {
		case r == '\n', r == '\r', r == '\t':
			return -1
		case r < 0x20, r == 0x7f:
			return -1
		}
		return r
	}, value)
	if limit > 0 && len(value) > limit {
		runes := []rune(value)
		if len(runes) > limit {
			runes = runes[:limit]
		}
		return string(runes)
	}
	return value
}

// SanitizeRoute normalises a route pattern for use as a metric or span
// attribute. An unmatched route collapses to "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return stripControl(route, maxRouteLen)
}

// SanitizeMethod bounds an HTTP method string.
func SanitizeMethod(method string) string {
	return stripControl(method, maxMethodLen)
}

// SanitizeUserID bounds an actor identifier before it reaches logs.
func SanitizeUserID(uid string) string {
	return stripControl(uid, maxUserIDLen)
}
