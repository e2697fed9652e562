package repository

import (
	"cmp"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "github.com/lib/pq"
)

// postgresDSN renders cfg as a lib/pq keyword/value string. Empty host, port,
// database and sslmode fall back to a local development server.
func postgresDSN(cfg domain.RepositoryConfig) string {
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	params := [][2]string{
		{"host", cmp.Or(cfg.PostgresHost, "localhost")},
		{"port", strconv.Itoa(port)},
		{"user", cfg.PostgresUser},
		{"password", cfg.PostgresPassword},
		{"dbname", cmp.Or(cfg.PostgresDB, "kestrel")},
		{"sslmode", cmp.Or(cfg.PostgresSSLMode, "disable")},
	}

	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p[1] == "" {
			continue
		}
		parts = append(parts, p[0]+"="+quoteDSNValue(p[1]))
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue single-quotes values that contain spaces, quotes or
// backslashes, as lib/pq expects.
func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
