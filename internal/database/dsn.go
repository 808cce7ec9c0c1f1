package database

import (
	"fmt"
	"strings"

	"github.com/rickgao/kalshi-sync/internal/config"
)

// DSN renders a keyword/value connection string for pgx. The key/value form
// avoids URL-escaping rules for passwords; values are quoted per the libpq
// syntax instead.
func DSN(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	parts := []string{
		"host=" + quoteDSN(cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		"dbname=" + quoteDSN(cfg.Name),
		"user=" + quoteDSN(cfg.User),
		"sslmode=" + sslMode,
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+quoteDSN(cfg.Password))
	}
	return strings.Join(parts, " ")
}

// quoteDSN single-quotes a value when it contains characters the keyword/
// value parser would otherwise split on, escaping backslashes and quotes.
func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	escaped := strings.ReplaceAll(v, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}
