package db

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// EnvVar is one KEY=value line of a generated service's environment
type EnvVar struct {
	Key   string
	Value string
}

// String renders the variable as KEY=value
func (e EnvVar) String() string {
	return e.Key + "=" + e.Value
}

// ServiceEnv returns the connection settings the generated service reads from
// its environment. DB_NAME_TEST is included in test mode and points at the
// same database.
func ServiceEnv(url string, testMode bool) ([]EnvVar, error) {
	kind, connStr, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	var name, user, password, host, port string
	switch kind {
	case Postgres:
		cfg, err := pgconn.ParseConfig(connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
		}
		name, user, password = cfg.Database, cfg.User, cfg.Password
		host, port = cfg.Host, strconv.Itoa(int(cfg.Port))

	case MySQL:
		cfg, err := mysql.ParseDSN(connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse MySQL DSN: %w", err)
		}
		name, user, password = cfg.DBName, cfg.User, cfg.Passwd
		host, port, err = net.SplitHostPort(cfg.Addr)
		if err != nil {
			host, port = cfg.Addr, "3306"
		}

	default:
		name = connStr
	}

	env := []EnvVar{{"DB_NAME", name}}
	if testMode {
		env = append(env, EnvVar{"DB_NAME_TEST", name})
	}
	env = append(env,
		EnvVar{"DB_USER", user},
		EnvVar{"DB_PASSWORD", password},
		EnvVar{"DB_HOST", host},
		EnvVar{"DB_PORT", port},
	)
	return env, nil
}

// EnvStrings renders vars for exec.Cmd.Env
func EnvStrings(vars []EnvVar) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.String()
	}
	return out
}
