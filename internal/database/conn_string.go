package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/channels/internal/config"
)

// ApplicationName is reported to Postgres so journal sessions are visible
// in pg_stat_activity.
const ApplicationName = "channeld"

// BuildConnString builds a PostgreSQL URL from config. The password is
// escaped; an empty ssl mode falls back to config.DefaultDBSSLMode.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("application_name", ApplicationName)
	q.Set("sslmode", sslMode)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
