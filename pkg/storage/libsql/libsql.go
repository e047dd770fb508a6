//go:build libsql

// Package libsql provides a storage driver for libSQL databases, local
// files or remote Turso URLs, using ent with the SQLite dialect.
package libsql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/tursodatabase/go-libsql" // registers "libsql"

	entdriver "github.com/papercomputeco/accord/pkg/storage/ent/driver"
)

// Available reports whether this binary was built with libSQL support.
const Available = true

// Driver implements storage.Driver over libSQL.
type Driver struct {
	*entdriver.EntDriver
}

// NewDriver opens url, which is either a libsql:// URL or a local path.
func NewDriver(ctx context.Context, url string) (*Driver, error) {
	if !strings.Contains(url, "://") && !strings.HasPrefix(url, "file:") {
		url = "file:" + url
	}

	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	drv, err := entdriver.New(ctx, entsql.OpenDB(dialect.SQLite, db))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Driver{EntDriver: drv}, nil
}
