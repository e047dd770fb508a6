package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papercomputeco/accord/pkg/anchor"
	"github.com/papercomputeco/accord/pkg/anchor/nop"
	"github.com/papercomputeco/accord/pkg/anchor/rfc3161"
	"github.com/papercomputeco/accord/pkg/eventstream"
	"github.com/papercomputeco/accord/pkg/eventstream/kafka"
	nopevents "github.com/papercomputeco/accord/pkg/eventstream/nop"
	"github.com/papercomputeco/accord/pkg/storage"
	"github.com/papercomputeco/accord/pkg/storage/inmemory"
	"github.com/papercomputeco/accord/pkg/storage/libsql"
	"github.com/papercomputeco/accord/pkg/storage/postgres"
	"github.com/papercomputeco/accord/pkg/storage/sqlite"
)

// NewStorageDriverOpts selects and locates a storage backend.
type NewStorageDriverOpts struct {
	// Driver is one of "sqlite", "postgres", "libsql", or "memory".
	Driver string

	// Target is the SQLite path, Postgres DSN, or libSQL URL.
	Target string

	Logger *slog.Logger
}

// NewStorageDriver opens the storage backend named by opts.
func NewStorageDriver(ctx context.Context, opts *NewStorageDriverOpts) (storage.Driver, error) {
	switch opts.Driver {
	case "sqlite", "":
		driver, err := sqlite.NewSQLiteDriver(ctx, opts.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		opts.Logger.Debug("using SQLite storage", "path", opts.Target)
		return driver, nil
	case "postgres":
		if opts.Target == "" {
			return nil, fmt.Errorf("postgres storage requires storage.postgres_dsn")
		}
		driver, err := postgres.NewDriver(ctx, opts.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres storer: %w", err)
		}
		opts.Logger.Debug("using Postgres storage")
		return driver, nil
	case "libsql":
		if opts.Target == "" {
			return nil, fmt.Errorf("libsql storage requires storage.libsql_url")
		}
		driver, err := libsql.NewDriver(ctx, opts.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to create libSQL storer: %w", err)
		}
		opts.Logger.Debug("using libSQL storage", "url", opts.Target)
		return driver, nil
	case "memory":
		opts.Logger.Debug("using in-memory storage")
		return inmemory.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// NewAnchorer returns the evidence witness for provider.
func NewAnchorer(provider, url, policy string) (anchor.Anchorer, error) {
	switch provider {
	case "none", "":
		return nop.NewAnchorer(), nil
	case rfc3161.Provider:
		if url == "" {
			return nil, fmt.Errorf("rfc3161 anchoring requires anchor.url")
		}
		return rfc3161.NewAnchorer(url, policy), nil
	default:
		return nil, fmt.Errorf("unknown anchor provider %q", provider)
	}
}

// NewEventPublisher returns the agreement event sink for provider. Brokers
// is a comma-separated list.
func NewEventPublisher(provider, brokers, topic string) (eventstream.Publisher, error) {
	switch provider {
	case "none", "":
		return nopevents.NewPublisher(), nil
	case "kafka":
		var list []string
		for b := range strings.SplitSeq(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				list = append(list, b)
			}
		}
		p, err := kafka.NewPublisher(kafka.Config{Brokers: list, Topic: topic})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event stream provider %q", provider)
	}
}
