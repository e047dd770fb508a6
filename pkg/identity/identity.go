// Package identity manages agent identities: genesis, key rotation, signing
// and verification, controller binding, recovery, publishing, and migration
// of legacy identities onto the DID key chain.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/keystore"
	"github.com/papercomputeco/accord/pkg/logger"
	"github.com/papercomputeco/accord/pkg/registry"
	"github.com/papercomputeco/accord/pkg/signing"
	"github.com/papercomputeco/accord/pkg/storage"
)

// DefaultMaxSkew bounds how far a signature timestamp on a party action may
// drift from the service clock.
const DefaultMaxSkew = 5 * time.Minute

// ProofFetcher retrieves the public text of a controller proof.
type ProofFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Publisher sends a DID document to a registry target.
type Publisher interface {
	Publish(ctx context.Context, doc *did.Document) (registry.Result, error)
}

// Service is the identity and key rotation manager.
type Service struct {
	store      storage.IdentityStore
	keys       keystore.KeyStore
	fetcher    ProofFetcher
	publishers map[string]Publisher
	resolvers  map[string]Resolver
	logger     *slog.Logger
	now        func() time.Time
	maxSkew    time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithFetcher sets the controller proof fetcher.
func WithFetcher(f ProofFetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithPublisher registers a registry target under name.
func WithPublisher(name string, p Publisher) Option {
	return func(s *Service) { s.publishers[name] = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxSkew sets the freshness window used by Authenticate.
func WithMaxSkew(d time.Duration) Option {
	return func(s *Service) { s.maxSkew = d }
}

// NewService creates an identity service over store and keys.
func NewService(store storage.IdentityStore, keys keystore.KeyStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		keys:       keys,
		publishers: map[string]Publisher{},
		resolvers:  map[string]Resolver{},
		logger:     logger.Nop(),
		now:        time.Now,
		maxSkew:    DefaultMaxSkew,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitRequest describes a new DID identity.
type InitRequest struct {
	Namespace string
	Name      string

	// ControllerPlatform and ControllerHandle optionally bind a controller
	// at genesis. The binding starts unverified.
	ControllerPlatform string
	ControllerHandle   string

	// Force replaces an existing identity with the same DID.
	Force bool
}

// Init creates a DID identity with a fresh genesis key.
func (s *Service) Init(ctx context.Context, req InitRequest) (*did.Identity, error) {
	id, err := s.genesis(ctx, req, "")
	if err != nil {
		return nil, err
	}
	s.logger.Info("identity created", "did", id.DID, "key_id", id.CurrentKeyID)
	return id, nil
}

func (s *Service) genesis(ctx context.Context, req InitRequest, legacyID string) (*did.Identity, error) {
	subject, err := did.Format(req.Namespace, req.Name)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid identity")
	}

	existing, err := s.store.GetIdentity(ctx, subject)
	switch {
	case err == nil && !req.Force:
		return nil, errs.Validation("identity %s already exists; pass force to replace it", subject)
	case err == nil:
		if err := s.store.DeleteIdentity(ctx, subject, existing.Version); err != nil {
			return nil, err
		}
		s.logger.Warn("identity replaced", "did", subject)
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}

	kp, err := signing.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	now := s.clock()
	namespace, name, _ := did.Parse(subject)
	rec := did.KeyRecord{
		KeyID:     did.KeyID(0),
		Seq:       0,
		Epoch:     0,
		PublicKey: kp.Multibase(),
		Method:    did.KeyGenesis,
		CreatedAt: now,
	}
	id := &did.Identity{
		DID:          subject,
		Namespace:    namespace,
		Name:         name,
		Scheme:       did.SchemeChain,
		LegacyID:     legacyID,
		Status:       did.StatusActive,
		GenesisKey:   rec.PublicKey,
		CurrentKeyID: rec.KeyID,
		Keys:         []did.KeyRecord{rec},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if req.ControllerHandle != "" {
		c, err := s.newController(req.ControllerPlatform, req.ControllerHandle, now)
		if err != nil {
			return nil, err
		}
		id.Controller = c
	}

	// The key must be in custody before the identity that names it exists.
	if err := s.keys.Put(ctx, subject, rec.KeyID, kp); err != nil {
		return nil, fmt.Errorf("failed to store genesis key: %w", err)
	}
	if err := s.store.CreateIdentity(ctx, id); err != nil {
		return nil, err
	}
	return id, nil
}

// InitLegacy registers a pre-DID identity that signs with the legacy scheme.
func (s *Service) InitLegacy(ctx context.Context, agentID string) (*did.Identity, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, errs.Validation("legacy agent id is required")
	}
	if strings.HasPrefix(agentID, "did:") {
		return nil, errs.Validation("legacy agent id %q must not be a DID", agentID)
	}

	now := s.clock()
	id := &did.Identity{
		Scheme:    did.SchemeLegacy,
		LegacyID:  agentID,
		Status:    did.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateIdentity(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info("legacy identity created", "agent_id", agentID)
	return id, nil
}

// Show returns an identity with its full key history.
func (s *Service) Show(ctx context.Context, subject string) (*did.Identity, error) {
	return s.store.GetIdentity(ctx, subject)
}

// List returns every identity.
func (s *Service) List(ctx context.Context) ([]*did.Identity, error) {
	return s.store.ListIdentities(ctx)
}

// Sign produces a signature envelope over message with the identity's
// current key, or with the legacy scheme for legacy identities. A migrated
// legacy id signs as the DID it was migrated to.
func (s *Service) Sign(ctx context.Context, subject, message string) (signing.Signature, error) {
	id, err := s.resolve(ctx, subject)
	if err != nil {
		return signing.Signature{}, err
	}
	if id.Status == did.StatusCompromised {
		return signing.Signature{}, errs.Unauthorized("identity %s is compromised; recover before signing", id.Subject())
	}

	scheme, err := did.SchemeFor(id.Scheme)
	if err != nil {
		return signing.Signature{}, err
	}
	if scheme.Tag() == did.SchemeLegacy {
		return scheme.Sign(id, nil, message, s.clock())
	}

	cur, kp, err := s.custody(ctx, id)
	if err != nil {
		return signing.Signature{}, err
	}

	// A key never signs before its own creation time.
	at := s.clock()
	if at.Before(cur.CreatedAt) {
		at = cur.CreatedAt
	}
	return scheme.Sign(id, kp.Private, message, at)
}

// VerifyChain replays the key history of an identity from genesis. The
// report is returned even when the chain is invalid.
func (s *Service) VerifyChain(ctx context.Context, subject string) (*did.ChainReport, error) {
	id, err := s.store.GetIdentity(ctx, subject)
	if err != nil {
		return nil, err
	}
	if id.Scheme == did.SchemeLegacy {
		return nil, errs.Validation("legacy identity %s has no key chain; migrate it first", subject)
	}

	report := did.VerifyChain(id)
	if err := report.Err(); err != nil {
		s.logger.Warn("key chain invalid", "did", subject, "first_invalid", report.FirstInvalid, "error", err)
		return report, err
	}
	return report, nil
}

// VerifyMessage checks signature over message against the key that was
// current when it was signed. When asOfKey is set the signature must come
// from that key.
func (s *Service) VerifyMessage(ctx context.Context, subject, message, signature, asOfKey string) (*did.Verification, error) {
	sig, err := signing.ParseSignature(signature)
	if err != nil {
		return nil, errs.Wrap(errs.KindSignatureVerification, err, "unreadable signature")
	}
	id, err := s.resolve(ctx, subject)
	if err != nil {
		return nil, err
	}
	return s.verify(id, message, sig, asOfKey)
}

// Authenticate verifies a party action: the signature must be fresh, the
// actor must not be compromised, and the signature must verify under the key
// current at its timestamp.
func (s *Service) Authenticate(ctx context.Context, actor, message, signature string) (*did.Verification, error) {
	sig, err := signing.ParseSignature(signature)
	if err != nil {
		return nil, errs.Wrap(errs.KindSignatureVerification, err, "unreadable signature")
	}

	now := s.now()
	if skew := now.Sub(sig.Timestamp).Abs(); skew > s.maxSkew {
		return nil, errs.SignatureVerification("signature by %s is %s from the current time, outside the %s freshness window",
			actor, skew.Truncate(time.Second), s.maxSkew)
	}

	id, err := s.resolve(ctx, actor)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Unauthorized("unknown identity %s", actor)
	}
	if err != nil {
		return nil, err
	}
	if id.Status == did.StatusCompromised {
		return nil, errs.Unauthorized("identity %s is compromised", actor)
	}
	if id.Scheme != did.SchemeLegacy && sig.Algorithm == signing.AlgLegacyHMAC {
		return nil, errs.SignatureVerification("%s acts under the DID scheme; legacy signatures are not accepted", actor)
	}
	return s.verify(id, message, sig, "")
}

func (s *Service) verify(id *did.Identity, message string, sig signing.Signature, asOfKey string) (*did.Verification, error) {
	scheme, err := did.SchemeFor(id.Scheme)
	if err != nil {
		return nil, err
	}
	v, err := scheme.Verify(id, message, sig, asOfKey)
	if err != nil {
		s.logger.Warn("signature rejected", "subject", id.Subject(), "scheme", scheme.Tag(), "error", err)
		return nil, err
	}
	return v, nil
}

// Publish verifies the identity's chain and sends its DID document to the
// named registry target.
func (s *Service) Publish(ctx context.Context, subject, target string) (registry.Result, error) {
	p, ok := s.publishers[target]
	if !ok {
		return registry.Result{}, errs.Validation("unknown registry target %q", target)
	}

	id, err := s.store.GetIdentity(ctx, subject)
	if err != nil {
		return registry.Result{}, err
	}
	if id.Scheme == did.SchemeLegacy {
		return registry.Result{}, errs.Validation("legacy identity %s has no DID document", subject)
	}
	if err := did.VerifyChain(id).Err(); err != nil {
		return registry.Result{}, err
	}

	res, err := p.Publish(ctx, did.NewDocument(id))
	if err != nil {
		return registry.Result{}, fmt.Errorf("failed to publish %s to %s: %w", subject, target, err)
	}
	s.logger.Info("document published", "did", subject, "target", target, "location", res.Location)
	return res, nil
}

// Document renders the publishable DID document without publishing it.
func (s *Service) Document(ctx context.Context, subject string) (*did.Document, error) {
	id, err := s.store.GetIdentity(ctx, subject)
	if err != nil {
		return nil, err
	}
	return did.NewDocument(id), nil
}

// resolve loads subject, following a migrated legacy id to its DID. The DID
// identity keeps the legacy id, so legacy signatures still verify through it.
func (s *Service) resolve(ctx context.Context, subject string) (*did.Identity, error) {
	id, err := s.store.GetIdentity(ctx, subject)
	if err != nil {
		return nil, err
	}
	if id.MigratedTo == "" {
		return id, nil
	}
	return s.store.GetIdentity(ctx, id.MigratedTo)
}

// custody returns the current key record and its private key, or an
// unauthorized error when the key is not held here.
func (s *Service) custody(ctx context.Context, id *did.Identity) (*did.KeyRecord, *signing.KeyPair, error) {
	cur, ok := id.CurrentKey()
	if !ok {
		return nil, nil, errs.Unauthorized("identity %s has no current key", id.Subject())
	}
	kp, err := s.keys.Get(ctx, id.Subject(), cur.PublicKey)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil, errs.Unauthorized("no private key for %s%s is held", id.Subject(), cur.KeyID)
	}
	if err != nil {
		return nil, nil, err
	}
	if kp.Multibase() != cur.PublicKey {
		return nil, nil, errs.Unauthorized("held key for %s%s does not match the key history", id.Subject(), cur.KeyID)
	}
	return cur, kp, nil
}

// clock returns the current time at the millisecond precision used by
// signature envelopes.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// stamp returns a creation time for a new chain record, strictly after the
// current head.
func (s *Service) stamp(id *did.Identity) time.Time {
	t := s.clock()
	if head, ok := id.Head(); ok && !t.After(head.CreatedAt) {
		t = head.CreatedAt.Add(time.Millisecond)
	}
	return t
}

func newChallenge() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(b), nil
}
