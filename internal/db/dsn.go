package db

import (
	"net/url"
	"strings"
)

// Redact returns dsn with any password replaced, for logging. Keyword/value
// DSNs are reduced to their host and dbname settings.
func Redact(dsn string) string {
	if dsn == "" {
		return ""
	}
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "<invalid dsn>"
		}
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		return u.String()
	}
	var kept []string
	for _, kv := range strings.Fields(dsn) {
		k, _, _ := strings.Cut(kv, "=")
		switch k {
		case "host", "port", "dbname", "user", "sslmode":
			kept = append(kept, kv)
		}
	}
	return strings.Join(kept, " ")
}
