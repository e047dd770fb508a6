// Package app assembles the identity, agreement, and arbitration services
// from configuration, and performs signed actions on behalf of agents whose
// keys are held locally.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/papercomputeco/accord/pkg/agreement"
	"github.com/papercomputeco/accord/pkg/anchor"
	"github.com/papercomputeco/accord/pkg/arbitration"
	"github.com/papercomputeco/accord/pkg/config"
	"github.com/papercomputeco/accord/pkg/dotdir"
	"github.com/papercomputeco/accord/pkg/eventstream"
	"github.com/papercomputeco/accord/pkg/fetch"
	"github.com/papercomputeco/accord/pkg/identity"
	"github.com/papercomputeco/accord/pkg/keystore"
	"github.com/papercomputeco/accord/pkg/logger"
	"github.com/papercomputeco/accord/pkg/registry"
	"github.com/papercomputeco/accord/pkg/storage"
	"github.com/papercomputeco/accord/pkg/timeline"
)

// Registry target names.
const (
	TargetLocal = "local"
	TargetHTTP  = "http"
)

// App holds the wired services. Close releases the store and event sink.
type App struct {
	Config      *config.Config
	Paths       dotdir.Paths
	Store       storage.Driver
	Identity    *identity.Service
	Agreements  *agreement.Service
	Arbitration *arbitration.Service
	Logger      *slog.Logger

	// Now is the clock shared by every service.
	Now func() time.Time

	events eventstream.Publisher
}

type options struct {
	store      storage.Driver
	keys       keystore.KeyStore
	fetcher    identity.ProofFetcher
	anchorer   anchor.Anchorer
	events     eventstream.Publisher
	logger     *slog.Logger
	now        func() time.Time
	passphrase PassphraseFunc
}

// Option overrides a component Open would otherwise build from config.
type Option func(*options)

// WithStore uses an already open store.
func WithStore(s storage.Driver) Option {
	return func(o *options) { o.store = s }
}

// WithKeyStore uses ks instead of the file keystore.
func WithKeyStore(ks keystore.KeyStore) Option {
	return func(o *options) { o.keys = ks }
}

// WithFetcher sets the controller proof fetcher.
func WithFetcher(f identity.ProofFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithAnchorer sets the evidence witness.
func WithAnchorer(a anchor.Anchorer) Option {
	return func(o *options) { o.anchorer = a }
}

// WithEvents sets the agreement event sink.
func WithEvents(p eventstream.Publisher) Option {
	return func(o *options) { o.events = p }
}

// WithLogger sets the logger shared by every service.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces the wall clock of every service.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPassphrase sets how the file keystore passphrase is obtained.
func WithPassphrase(f PassphraseFunc) Option {
	return func(o *options) { o.passphrase = f }
}

// Open builds the services described by cfg, rooted at paths.
func Open(ctx context.Context, cfg *config.Config, paths dotdir.Paths, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.Nop()
	}
	if o.now == nil {
		o.now = time.Now
	}

	maxSkew, err := config.Duration(cfg.Protocol.MaxSkew, identity.DefaultMaxSkew)
	if err != nil {
		return nil, fmt.Errorf("protocol.max_skew: %w", err)
	}
	ttl, err := config.Duration(cfg.Protocol.ProposalTTL, agreement.DefaultProposalTTL)
	if err != nil {
		return nil, fmt.Errorf("protocol.proposal_ttl: %w", err)
	}
	window, err := config.Duration(cfg.Protocol.EvidenceWindow, arbitration.DefaultEvidenceWindow)
	if err != nil {
		return nil, fmt.Errorf("protocol.evidence_window: %w", err)
	}

	a := &App{Config: cfg, Paths: paths, Logger: o.logger, Now: o.now}

	a.Store = o.store
	if a.Store == nil {
		target := cfg.Storage.SQLitePath
		switch cfg.Storage.Driver {
		case "postgres":
			target = cfg.Storage.PostgresDSN
		case "libsql":
			target = cfg.Storage.LibSQLURL
		case "sqlite", "":
			if target == "" {
				target = paths.DB
			}
		}
		a.Store, err = NewStorageDriver(ctx, &NewStorageDriverOpts{
			Driver: cfg.Storage.Driver,
			Target: target,
			Logger: o.logger,
		})
		if err != nil {
			return nil, err
		}
	}

	a.events = o.events
	if a.events == nil {
		a.events, err = NewEventPublisher(cfg.EventStream.Provider, cfg.EventStream.Brokers, cfg.EventStream.Topic)
		if err != nil {
			a.Store.Close()
			return nil, err
		}
	}

	anchorer := o.anchorer
	if anchorer == nil {
		anchorer, err = NewAnchorer(cfg.Anchor.Provider, cfg.Anchor.URL, cfg.Anchor.Policy)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	keys := o.keys
	if keys == nil {
		dir := cfg.Keystore.Dir
		if dir == "" {
			dir = paths.Keys
		}
		passphrase := o.passphrase
		if passphrase == nil {
			passphrase = TerminalPassphrase(os.Stderr, o.logger)
		}
		keys = &lazyKeys{open: func() (keystore.KeyStore, error) {
			p, err := passphrase()
			if err != nil {
				return nil, fmt.Errorf("keystore passphrase: %w", err)
			}
			return keystore.NewFile(dir, p)
		}}
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = fetch.NewHTTPFetcher()
	}

	registryDir := cfg.Registry.Dir
	if registryDir == "" {
		registryDir = paths.Registry
	}
	local := registry.NewLocal(registryDir)
	idOpts := []identity.Option{
		identity.WithFetcher(fetcher),
		identity.WithPublisher(TargetLocal, local),
		identity.WithResolver(TargetLocal, local),
		identity.WithLogger(logger.Component(o.logger, "identity")),
		identity.WithClock(o.now),
		identity.WithMaxSkew(maxSkew),
	}
	if cfg.Registry.URL != "" {
		remote := registry.NewHTTP(cfg.Registry.URL, cfg.Registry.Token)
		idOpts = append(idOpts,
			identity.WithPublisher(TargetHTTP, remote),
			identity.WithResolver(TargetHTTP, remote),
		)
	}
	a.Identity = identity.NewService(a.Store, keys, idOpts...)

	source := eventstream.EventSource{Node: hostname(), Service: "accord"}
	a.Agreements = agreement.NewService(a.Store, a.Identity,
		agreement.WithEvents(a.events, source),
		agreement.WithLogger(logger.Component(o.logger, "agreement")),
		agreement.WithClock(o.now),
		agreement.WithProposalTTL(ttl),
	)
	a.Arbitration = arbitration.NewService(a.Store, a.Identity,
		arbitration.WithAnchorer(anchorer),
		arbitration.WithEvents(a.events, source),
		arbitration.WithLogger(logger.Component(o.logger, "arbitration")),
		arbitration.WithClock(o.now),
		arbitration.WithEvidenceWindow(window),
	)

	return a, nil
}

// Timeline builds the audit log of an agreement or proposal.
func (a *App) Timeline(ctx context.Context, id string) (*timeline.Timeline, error) {
	return timeline.Build(ctx, a.Store, id, timeline.WithClock(a.Now))
}

// Close releases the event sink and the store.
func (a *App) Close() error {
	var errList []error
	if a.events != nil {
		errList = append(errList, a.events.Close())
	}
	if a.Store != nil {
		errList = append(errList, a.Store.Close())
	}
	return errors.Join(errList...)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
