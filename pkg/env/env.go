// Package env reads process settings needed before config.Load runs, such as the log format.
package env

import (
	"os"
	"strings"
)

const prefix = "MARKET_"

// Get returns MARKET_<key> when set, then <key>, then fallback.
func Get(key, fallback string) string {
	for _, name := range []string{prefix + strings.TrimPrefix(key, prefix), key} {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return fallback
}
