package sqlstore

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// Dialect captures what differs between the supported databases: the
// database/sql driver name, placeholder syntax and schema DDL.
type Dialect struct {
	Name       string
	DriverName string

	rebind     func(query string) string
	migrations string
}

var (
	// Postgres uses github.com/lib/pq, registered by the binary.
	Postgres = Dialect{
		Name:       "postgres",
		DriverName: "postgres",
		rebind:     func(q string) string { return q },
		migrations: "migrations/postgres",
	}

	// SQLite uses modernc.org/sqlite (pure Go).
	SQLite = Dialect{
		Name:       "sqlite",
		DriverName: "sqlite",
		rebind:     rebindQuestion,
		migrations: "migrations/sqlite",
	}
)

// DialectByName resolves the STORE_DRIVER setting.
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "", Postgres.Name, "postgresql":
		return Postgres, nil
	case SQLite.Name, "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unknown store driver %q", name)
	}
}

func (d Dialect) migrationFS() (fs.FS, error) {
	return fs.Sub(migrationFiles, d.migrations)
}

var numberedPlaceholder = regexp.MustCompile(`\$\d+`)

func rebindQuestion(q string) string {
	return numberedPlaceholder.ReplaceAllString(q, "?")
}
