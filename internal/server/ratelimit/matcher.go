package ratelimit

import (
	"net/http"
	"strings"
)

// MatchEndpoint resolves the limit tier for a request. Exact path matches
// win; configs whose path ends in "/" match by prefix. Returns nil when no
// tier applies, in which case the caller falls back to the default limit.
func MatchEndpoint(path, method string, configs []EndpointConfig) *EndpointConfig {
	if method == http.MethodGet && exemptPath(path) {
		return &EndpointConfig{} // zero limit means unlimited
	}

	var prefixMatch *EndpointConfig
	for i := range configs {
		config := &configs[i]
		if config.Method != method {
			continue
		}
		if config.Path == path {
			return config
		}
		if prefixMatch == nil && strings.HasSuffix(config.Path, "/") && strings.HasPrefix(path, config.Path) {
			prefixMatch = config
		}
	}
	return prefixMatch
}

// exemptPath reports whether the path is never rate limited: health checks,
// metrics scrapes, and generated artifact downloads.
func exemptPath(path string) bool {
	return path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/content/")
}
