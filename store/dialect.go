package store

import (
	"fmt"
	"strings"
	"time"
)

type Dialect interface {
	AutoIncrementPK() string
	TimestampType() string
	FloatType() string
	// MigrateDialect names the sql-migrate dialect for this driver.
	MigrateDialect() string
}

type sqliteDialect struct{}

func (sqliteDialect) AutoIncrementPK() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (sqliteDialect) TimestampType() string   { return "TEXT" }
func (sqliteDialect) FloatType() string       { return "REAL" }
func (sqliteDialect) MigrateDialect() string  { return "sqlite3" }

type postgresDialect struct{}

func (postgresDialect) AutoIncrementPK() string { return "BIGSERIAL PRIMARY KEY" }
func (postgresDialect) TimestampType() string   { return "TIMESTAMPTZ" }
func (postgresDialect) FloatType() string       { return "DOUBLE PRECISION" }
func (postgresDialect) MigrateDialect() string  { return "postgres" }

// parseTime converts a scanned timestamp value to time.Time.
// SQLite returns strings, Postgres returns time.Time.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		if t == "" {
			return time.Time{}
		}
		for _, layout := range []string{
			"2006-01-02 15:04:05-07:00",
			time.RFC3339Nano,
			"2006-01-02 15:04:05",
			"2006-01-02 15:04:05 -0700 MST",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	case []byte:
		return parseTime(string(t))
	}
	return time.Time{}
}

// parseTimePtr is like parseTime but returns nil for zero/missing timestamps.
func parseTimePtr(v any) *time.Time {
	t := parseTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
