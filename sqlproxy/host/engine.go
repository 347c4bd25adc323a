package host

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

const memoryURL = "sqlite::memory:"

// engineFor resolves a connection url to a database/sql driver name and DSN.
// Every "sqlite::memory:" pool gets its own named shared-cache database so that
// all handles on it see the same data.
func engineFor(url string) (d dialect.Dialect, driverName, dsn string, err error) {
	d, err = dialect.ForURL(url)
	if err != nil {
		return nil, "", "", err
	}
	if d == dialect.Postgres {
		return d, "pgx", url, nil
	}

	switch {
	case url == memoryURL:
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	case strings.HasPrefix(url, "sqlite://"):
		dsn = strings.TrimPrefix(url, "sqlite://")
	case strings.HasPrefix(url, "sqlite:"):
		dsn = strings.TrimPrefix(url, "sqlite:")
	default:
		dsn = url
	}
	if dsn == "" {
		return nil, "", "", fmt.Errorf("sqlite url %q has no path", url)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return d, "sqlite3", dsn + sep + "_foreign_keys=1", nil
}

// bindArg converts a wire bind into a database/sql argument. Timestamps are
// bound as times on both engines: go-sqlite3 rewrites integers read back from
// date, datetime and timestamp columns, but stores a time as text it parses
// back exactly. Postgres also needs bools as Go bools.
func bindArg(d dialect.Dialect, b types.Bind) any {
	v := b.Value
	if v.IsNull() {
		return nil
	}
	if v.Kind() == types.KindInteger {
		switch d.Storage(b.Tag) {
		case types.StorageBool:
			if d == dialect.Postgres {
				return v.Int64() != 0
			}
		case types.StorageTimestamp:
			return time.Unix(0, v.Int64()).UTC()
		}
	}
	return v.Any()
}
