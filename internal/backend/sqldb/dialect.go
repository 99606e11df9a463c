package sqldb

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL databases.
type Dialect interface {
	// Name returns the dialect name ("sqlite" or "postgres").
	Name() string

	// DriverName returns the database/sql driver name to use.
	DriverName() string

	// Rebind converts ? placeholders to the dialect's format.
	Rebind(query string) string

	// JSONParam returns the placeholder for a parameter stored in a JSON column.
	JSONParam() string

	// PragmaStatements returns statements run once after opening.
	PragmaStatements() []string
}

// DialectFromDriver returns the dialect for a driver or backend name.
func DialectFromDriver(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return "sqlite" }
func (sqliteDialect) DriverName() string         { return "sqlite" }
func (sqliteDialect) Rebind(query string) string { return query }
func (sqliteDialect) JSONParam() string          { return "?" }

func (sqliteDialect) PragmaStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "pgx" }
func (postgresDialect) JSONParam() string  { return "?::jsonb" }

func (postgresDialect) PragmaStatements() []string { return nil }

// Rebind converts ? placeholders to $1, $2, etc. Question marks inside
// single-quoted literals are left alone.
func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	idx := 1
	inQuote := false
	for _, ch := range query {
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteRune(ch)
		case ch == '?' && !inQuote:
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(idx))
			idx++
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}
