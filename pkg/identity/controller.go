package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/accord/pkg/canonical"
	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/signing"
)

// envelopePattern finds Ed25519 signature envelopes in fetched proof text.
var envelopePattern = regexp.MustCompile(`ed25519:[A-Za-z0-9_-]{86}:\d+`)

func (s *Service) newController(platform, handle string, now time.Time) (*did.Controller, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	handle = normalizeHandle(handle)
	if platform == "" {
		return nil, errs.Validation("controller platform is required")
	}
	if handle == "" {
		return nil, errs.Validation("controller handle is required")
	}
	challenge, err := newChallenge()
	if err != nil {
		return nil, err
	}
	return &did.Controller{
		Platform:  platform,
		Handle:    handle,
		Status:    did.ControllerUnverified,
		Challenge: challenge,
		LinkedAt:  now,
	}, nil
}

func normalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}

// SetController binds a human controller account to an identity. The binding
// starts unverified with a fresh challenge. Only the holder of the current
// key may bind a controller.
func (s *Service) SetController(ctx context.Context, subject, platform, handle string) (*did.Identity, error) {
	id, err := s.store.GetIdentity(ctx, subject)
	if err != nil {
		return nil, err
	}
	if id.Scheme == did.SchemeLegacy {
		return nil, errs.Validation("legacy identity %s cannot bind a controller; migrate it first", subject)
	}
	if id.Status == did.StatusCompromised {
		return nil, errs.Unauthorized("identity %s is compromised", subject)
	}
	if _, _, err := s.custody(ctx, id); err != nil {
		return nil, err
	}

	now := s.clock()
	c, err := s.newController(platform, handle, now)
	if err != nil {
		return nil, err
	}

	expected := id.Version
	id.Controller = c
	id.UpdatedAt = now
	if err := s.store.UpdateIdentity(ctx, id, expected); err != nil {
		return nil, err
	}

	s.logger.Info("controller bound", "did", subject, "platform", c.Platform, "handle", c.Handle)
	return id, nil
}

// ControllerProof returns the text the controller publishes to verify the
// binding: the challenge statement followed by its signature by the current
// key.
func (s *Service) ControllerProof(ctx context.Context, subject string) (string, error) {
	id, err := s.store.GetIdentity(ctx, subject)
	if err != nil {
		return "", err
	}
	if id.Controller == nil {
		return "", errs.New(errs.KindValidation, "no controller bound")
	}

	statement := did.ChallengeStatement(id.DID, id.Controller.Challenge)
	sig, err := s.Sign(ctx, subject, statement)
	if err != nil {
		return "", err
	}
	return statement + "\n\nSignature: " + sig.String(), nil
}

// VerifyController fetches the proof at proofURL and checks that it carries a
// signature by the current key over the challenge statement. On success the
// controller is verified and a fresh challenge is issued.
func (s *Service) VerifyController(ctx context.Context, subject, proofURL string) (*did.Identity, error) {
	id, err := s.store.GetIdentity(ctx, subject)
	if err != nil {
		return nil, err
	}
	c := id.Controller
	if c == nil {
		return nil, errs.New(errs.KindValidation, "no controller bound")
	}
	if err := checkProofURL(proofURL, c); err != nil {
		return nil, err
	}

	text, err := s.fetch(ctx, proofURL)
	if err != nil {
		return nil, err
	}

	cur, ok := id.CurrentKey()
	if !ok {
		return nil, errs.SignatureVerification("identity %s has no current key", subject)
	}
	pub, err := signing.DecodeMultibase(cur.PublicKey)
	if err != nil {
		return nil, errs.Wrap(errs.KindSignatureVerification, err, "current key")
	}

	statement := did.ChallengeStatement(id.DID, c.Challenge)
	verified := false
	for _, env := range envelopePattern.FindAllString(text, -1) {
		sig, err := signing.ParseSignature(env)
		if err != nil {
			continue
		}
		if signing.VerifyMessage(pub, statement, sig) == nil {
			verified = true
			break
		}
	}
	if !verified {
		s.logger.Warn("controller proof rejected", "did", subject, "url", proofURL)
		return nil, errs.SignatureVerification("proof at %s carries no signature by %s%s over the current challenge", proofURL, subject, cur.KeyID)
	}

	challenge, err := newChallenge()
	if err != nil {
		return nil, err
	}

	now := s.clock()
	expected := id.Version
	c.Status = did.ControllerVerified
	c.ProofURL = proofURL
	c.VerifiedAt = now
	c.Challenge = challenge
	id.UpdatedAt = now
	if err := s.store.UpdateIdentity(ctx, id, expected); err != nil {
		return nil, err
	}

	s.logger.Info("controller verified", "did", subject, "platform", c.Platform, "handle", c.Handle)
	return id, nil
}

// RecoveryStatement returns the text the controller must publish to recover
// the identity into its next epoch.
func (s *Service) RecoveryStatement(ctx context.Context, subject string) (string, error) {
	id, err := s.store.GetIdentity(ctx, subject)
	if err != nil {
		return "", err
	}
	if !id.Controller.Verified() {
		return "", errs.New(errs.KindValidation, "no controller bound")
	}
	return did.RecoveryStatement(id.DID, id.Epoch+1, id.Controller.Challenge), nil
}

// RecoverRequest describes a controller-authorized recovery.
type RecoverRequest struct {
	Subject  string
	ProofURL string

	// Confirm must be set; recovery retires keys and cannot be undone.
	Confirm bool

	// CompromisedKeyID is the earliest key to retire. Empty means the
	// current key. The named key and every later key in the current epoch
	// become a forensic branch.
	CompromisedKeyID string
}

// Recover opens a new epoch with a key authorized by the verified
// controller. The recovery record descends from the compromised key's
// predecessor, so the compromised branch is no longer part of the live
// chain. Signatures by retired keys stay verifiable for messages signed
// before the recovery point.
func (s *Service) Recover(ctx context.Context, req RecoverRequest) (*did.Identity, error) {
	id, err := s.store.GetIdentity(ctx, req.Subject)
	if err != nil {
		return nil, err
	}
	if id.Scheme == did.SchemeLegacy {
		return nil, errs.Validation("legacy identity %s cannot be recovered; migrate it first", req.Subject)
	}
	c := id.Controller
	if !c.Verified() {
		return nil, errs.New(errs.KindValidation, "no controller bound")
	}
	if !req.Confirm {
		return nil, errs.Validation("recovery retires keys of %s and must be confirmed", req.Subject)
	}
	if req.ProofURL == "" {
		return nil, errs.Validation("recovery requires a controller proof url")
	}
	if err := checkProofURL(req.ProofURL, c); err != nil {
		return nil, err
	}

	compromised, target, err := compromisedKeys(id, req.CompromisedKeyID)
	if err != nil {
		return nil, err
	}

	text, err := s.fetch(ctx, req.ProofURL)
	if err != nil {
		return nil, err
	}
	epoch := id.Epoch + 1
	statement := did.RecoveryStatement(id.DID, epoch, c.Challenge)
	if !did.ContainsStatement(text, statement) {
		s.logger.Warn("recovery proof rejected", "did", req.Subject, "url", req.ProofURL)
		return nil, errs.SignatureVerification("proof at %s does not authorize recovery of %s into epoch %d", req.ProofURL, req.Subject, epoch)
	}

	kp, err := signing.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	challenge, err := newChallenge()
	if err != nil {
		return nil, err
	}

	head, _ := id.Head()
	rec := did.KeyRecord{
		KeyID:         did.KeyID(head.Seq + 1),
		Seq:           head.Seq + 1,
		Epoch:         epoch,
		PublicKey:     kp.Multibase(),
		Method:        did.KeyRecovery,
		Reason:        did.ReasonCompromise,
		PreviousKeyID: target.PreviousKeyID,
		Recovery: &did.RecoveryProof{
			Platform:        c.Platform,
			Handle:          c.Handle,
			URL:             req.ProofURL,
			Challenge:       c.Challenge,
			Statement:       statement,
			ProofHash:       canonical.String(text),
			CompromisedKeys: compromised,
		},
		CreatedAt: s.stamp(id),
	}

	expected := id.Version
	id.Keys = append(id.Keys, rec)
	id.CurrentKeyID = rec.KeyID
	id.Status = did.StatusRecovered
	id.Epoch = epoch
	id.UpdatedAt = rec.CreatedAt
	c.Challenge = challenge

	if err := did.VerifyChain(id).Err(); err != nil {
		return nil, fmt.Errorf("recovery would break the key chain: %w", err)
	}

	if err := s.keys.Put(ctx, req.Subject, rec.KeyID, kp); err != nil {
		return nil, fmt.Errorf("failed to store recovery key: %w", err)
	}
	if err := s.store.UpdateIdentity(ctx, id, expected); err != nil {
		return nil, err
	}

	s.logger.Warn("identity recovered",
		"did", req.Subject,
		"epoch", epoch,
		"key_id", rec.KeyID,
		"compromised", strings.Join(compromised, ","),
	)
	return id, nil
}

// compromisedKeys returns the keys a recovery retires: the named key (or the
// current one) and every later key of the current epoch that is still live.
func compromisedKeys(id *did.Identity, keyID string) ([]string, *did.KeyRecord, error) {
	if keyID == "" {
		keyID = id.CurrentKeyID
	}
	target, ok := id.Key(keyID)
	if !ok {
		return nil, nil, errs.Validation("identity %s has no key %s", id.DID, keyID)
	}

	retired := id.CompromisedKeys()
	if slices.Contains(retired, target.KeyID) {
		return nil, nil, errs.Validation("key %s was already retired by a recovery", keyID)
	}
	if target.Epoch != id.Epoch {
		return nil, nil, errs.Validation("key %s belongs to epoch %d, not the current epoch %d", keyID, target.Epoch, id.Epoch)
	}

	var out []string
	for _, k := range id.Keys {
		if k.Epoch == id.Epoch && k.Seq >= target.Seq && !slices.Contains(retired, k.KeyID) {
			out = append(out, k.KeyID)
		}
	}
	return out, target, nil
}

// proofHosts lists the hosts that serve proofs for each platform. The first
// path segment of a proof URL on these hosts is the account name.
var proofHosts = map[string][]string{
	"github":  {"github.com", "gist.github.com", "raw.githubusercontent.com", "gist.githubusercontent.com"},
	"twitter": {"twitter.com", "x.com", "mobile.twitter.com"},
	"x":       {"twitter.com", "x.com", "mobile.twitter.com"},
}

// checkProofURL rejects proof URLs outside the controller's own account, so a
// proof cannot be lifted from someone else's. Known platforms must use one of
// their proof hosts with the handle as the first path segment. Other
// platforms must name the handle as the host or the first path segment.
func checkProofURL(raw string, c *did.Controller) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Hostname() == "" {
		return errs.Validation("proof url %q must be an absolute https url", raw)
	}
	host := strings.ToLower(u.Hostname())
	owner, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	handle := normalizeHandle(c.Handle)

	if hosts, ok := proofHosts[c.Platform]; ok {
		if !slices.Contains(hosts, host) {
			return errs.Validation("proof url %s is not hosted on %s", raw, c.Platform)
		}
		if !strings.EqualFold(owner, handle) {
			return errs.Validation("proof url %s does not belong to %s controller %s", raw, c.Platform, c.Handle)
		}
		return nil
	}

	if strings.EqualFold(host, handle) || strings.EqualFold(owner, handle) || strings.EqualFold(owner, "@"+handle) {
		return nil
	}
	return errs.Validation("proof url %s does not belong to %s controller %s", raw, c.Platform, c.Handle)
}

func (s *Service) fetch(ctx context.Context, target string) (string, error) {
	if s.fetcher == nil {
		return "", errs.Validation("no fetcher is configured")
	}
	text, err := s.fetcher.Fetch(ctx, target)
	if err == nil {
		return text, nil
	}
	var kinded *errs.Error
	if errors.As(err, &kinded) {
		return "", err
	}
	return "", errs.Wrap(errs.KindValidation, err, "could not fetch "+target)
}
