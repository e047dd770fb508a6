// Package entdriver implements storage.Driver on top of ent's SQL dialect
// builders. It is database-agnostic and is embedded by the sqlite, postgres,
// and libsql drivers.
package entdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/pao"
	"github.com/papercomputeco/accord/pkg/storage"
	entschema "github.com/papercomputeco/accord/pkg/storage/ent/schema"
)

// EntDriver provides storage operations over an ent SQL driver.
type EntDriver struct {
	Driver *entsql.Driver
	b      *entsql.DialectBuilder
}

var _ storage.Driver = (*EntDriver)(nil)

// New wraps drv and migrates the schema.
func New(ctx context.Context, drv *entsql.Driver) (*EntDriver, error) {
	migrate, err := schema.NewMigrate(drv)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare migration: %w", err)
	}

	// Auto-migration is append-only: new tables, columns, and indexes.
	if err := migrate.Create(ctx, entschema.Tables()...); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &EntDriver{
		Driver: drv,
		b:      entsql.Dialect(drv.Dialect()),
	}, nil
}

// Close closes the underlying database.
func (ed *EntDriver) Close() error {
	return ed.Driver.Close()
}

// CreateIdentity stores a new identity at version 1.
func (ed *EntDriver) CreateIdentity(ctx context.Context, id *did.Identity) error {
	if id == nil {
		return errors.New("cannot store nil identity")
	}

	return ed.withTx(ctx, func(tx dialect.Tx) error {
		subject := id.Subject()
		data, err := identityData(id, 1)
		if err != nil {
			return err
		}

		q, args := ed.b.Insert(entschema.Identities).
			Columns("subject", "did", "legacy_id", "status", "version", "created_at", "data").
			Values(subject, id.DID, id.LegacyID, string(id.Status), int64(1), millis(id.CreatedAt), data).
			Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			if isUniqueViolation(err) {
				return storage.DuplicateError{Record: "identity", Key: subject}
			}
			return fmt.Errorf("failed to insert identity: %w", err)
		}

		if err := ed.insertKeys(ctx, tx, subject, id.Keys); err != nil {
			return err
		}
		id.Version = 1
		return nil
	})
}

// GetIdentity retrieves an identity by subject.
func (ed *EntDriver) GetIdentity(ctx context.Context, subject string) (*did.Identity, error) {
	var out *did.Identity
	err := ed.withTx(ctx, func(tx dialect.Tx) error {
		id, err := ed.readIdentity(ctx, tx, subject)
		out = id
		return err
	})
	return out, err
}

// UpdateIdentity replaces an identity read at expectedVersion. Key records
// beyond the stored history are appended.
func (ed *EntDriver) UpdateIdentity(ctx context.Context, id *did.Identity, expectedVersion int64) error {
	if id == nil {
		return errors.New("cannot store nil identity")
	}

	return ed.withTx(ctx, func(tx dialect.Tx) error {
		subject := id.Subject()
		stored, err := ed.readIdentity(ctx, tx, subject)
		if err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return storage.VersionConflictError{Record: "identity", ID: subject, Expected: expectedVersion, Actual: stored.Version}
		}
		if err := storage.CheckAppendOnly(subject, stored.Keys, id.Keys); err != nil {
			return err
		}

		data, err := identityData(id, expectedVersion+1)
		if err != nil {
			return err
		}
		q, args := ed.b.Update(entschema.Identities).
			Set("did", id.DID).
			Set("legacy_id", id.LegacyID).
			Set("status", string(id.Status)).
			Set("version", expectedVersion+1).
			Set("data", data).
			Where(entsql.And(entsql.EQ("subject", subject), entsql.EQ("version", expectedVersion))).
			Query()
		if err := ed.execOne(ctx, tx, q, args); err != nil {
			if errors.Is(err, errNoRows) {
				return storage.VersionConflictError{Record: "identity", ID: subject, Expected: expectedVersion}
			}
			return err
		}

		if err := ed.insertKeys(ctx, tx, subject, id.Keys[len(stored.Keys):]); err != nil {
			return err
		}
		id.Version = expectedVersion + 1
		return nil
	})
}

// DeleteIdentity removes an identity and its key history.
func (ed *EntDriver) DeleteIdentity(ctx context.Context, subject string, expectedVersion int64) error {
	return ed.withTx(ctx, func(tx dialect.Tx) error {
		stored, err := ed.readIdentity(ctx, tx, subject)
		if err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return storage.VersionConflictError{Record: "identity", ID: subject, Expected: expectedVersion, Actual: stored.Version}
		}

		q, args := ed.b.Delete(entschema.IdentityKeys).Where(entsql.EQ("subject", subject)).Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return fmt.Errorf("failed to delete key history: %w", err)
		}
		q, args = ed.b.Delete(entschema.Identities).Where(entsql.EQ("subject", subject)).Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return fmt.Errorf("failed to delete identity: %w", err)
		}
		return nil
	})
}

// ListIdentities returns every identity in creation order.
func (ed *EntDriver) ListIdentities(ctx context.Context) ([]*did.Identity, error) {
	var out []*did.Identity
	err := ed.withTx(ctx, func(tx dialect.Tx) error {
		q, args := ed.b.Select("subject").
			From(ed.b.Table(entschema.Identities)).
			OrderBy("created_at", "subject").
			Query()
		subjects, err := queryStrings(ctx, tx, q, args)
		if err != nil {
			return err
		}
		for _, s := range subjects {
			id, err := ed.readIdentity(ctx, tx, s)
			if err != nil {
				return err
			}
			out = append(out, id)
		}
		return nil
	})
	return out, err
}

func (ed *EntDriver) readIdentity(ctx context.Context, tx dialect.Tx, subject string) (*did.Identity, error) {
	q, args := ed.b.Select("data").
		From(ed.b.Table(entschema.Identities)).
		Where(entsql.EQ("subject", subject)).
		Query()
	rows, err := queryStrings(ctx, tx, q, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.NotFoundError{Record: "identity", ID: subject}
	}

	id := &did.Identity{}
	if err := json.Unmarshal([]byte(rows[0]), id); err != nil {
		return nil, fmt.Errorf("failed to decode identity %s: %w", subject, err)
	}

	q, args = ed.b.Select("data").
		From(ed.b.Table(entschema.IdentityKeys)).
		Where(entsql.EQ("subject", subject)).
		OrderBy("seq").
		Query()
	keys, err := queryStrings(ctx, tx, q, args)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		var rec did.KeyRecord
		if err := json.Unmarshal([]byte(k), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode key record of %s: %w", subject, err)
		}
		id.Keys = append(id.Keys, rec)
	}
	return id, nil
}

func (ed *EntDriver) insertKeys(ctx context.Context, tx dialect.Tx, subject string, keys []did.KeyRecord) error {
	for _, k := range keys {
		data, err := json.Marshal(k)
		if err != nil {
			return err
		}
		q, args := ed.b.Insert(entschema.IdentityKeys).
			Columns("subject", "seq", "key_id", "data").
			Values(subject, int64(k.Seq), k.KeyID, string(data)).
			Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			if isUniqueViolation(err) {
				return storage.AppendOnlyError{Subject: subject, Seq: k.Seq}
			}
			return fmt.Errorf("failed to append key record: %w", err)
		}
	}
	return nil
}

// identityData encodes an identity without its key history, which lives in
// its own table.
func identityData(id *did.Identity, version int64) (string, error) {
	cp := *id
	cp.Keys = nil
	cp.Version = version
	b, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal identity: %w", err)
	}
	return string(b), nil
}

// Apply commits a change in a single transaction.
func (ed *EntDriver) Apply(ctx context.Context, change *storage.Change) error {
	if change == nil {
		return errors.New("cannot apply nil change")
	}

	var (
		propVersion = change.ProposalVersion
		agrVersion  = change.AgreementVersion
		caseVersion = change.CaseVersion
		seqs        []int64
	)

	err := ed.withTx(ctx, func(tx dialect.Tx) error {
		seqs = seqs[:0]
		if p := change.Proposal; p != nil {
			if err := ed.writeProposal(ctx, tx, p, propVersion); err != nil {
				return err
			}
		}
		if a := change.Agreement; a != nil {
			if err := ed.writeAgreement(ctx, tx, a, agrVersion); err != nil {
				return err
			}
		}
		if c := change.Case; c != nil {
			if err := ed.writeCase(ctx, tx, c, caseVersion); err != nil {
				return err
			}
		}
		for _, ev := range change.Events {
			seq, err := ed.appendEvent(ctx, tx, ev)
			if err != nil {
				return err
			}
			seqs = append(seqs, seq)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if change.Proposal != nil {
		change.Proposal.Version = propVersion + 1
	}
	if change.Agreement != nil {
		change.Agreement.Version = agrVersion + 1
	}
	if change.Case != nil {
		change.Case.Version = caseVersion + 1
	}
	for i, ev := range change.Events {
		ev.Seq = seqs[i]
	}
	return nil
}

func (ed *EntDriver) writeProposal(ctx context.Context, tx dialect.Tx, p *pao.Proposal, expected int64) error {
	cp := *p
	cp.Version = expected + 1
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal proposal: %w", err)
	}

	var dedup any
	if key := storage.DedupKey(p); key != "" {
		dedup = key
	}

	if expected == 0 {
		q, args := ed.b.Insert(entschema.Proposals).
			Columns("id", "proposer", "counterparty", "arbiter", "status", "dedup_key", "version", "created_at", "data").
			Values(p.ID, p.Proposer, p.Counterparty, p.Arbiter, string(p.Status), dedup, int64(1), millis(p.CreatedAt), string(data)).
			Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			if isUniqueViolation(err) {
				if strings.Contains(err.Error(), "dedup_key") {
					return storage.DuplicateError{Record: "pending proposal", Key: p.DedupKey()}
				}
				return storage.DuplicateError{Record: "proposal", Key: p.ID}
			}
			return fmt.Errorf("failed to insert proposal: %w", err)
		}
		return nil
	}

	q, args := ed.b.Update(entschema.Proposals).
		Set("status", string(p.Status)).
		Set("dedup_key", dedup).
		Set("version", expected+1).
		Set("data", string(data)).
		Where(entsql.And(entsql.EQ("id", p.ID), entsql.EQ("version", expected))).
		Query()
	if err := ed.execOne(ctx, tx, q, args); err != nil {
		if errors.Is(err, errNoRows) {
			return ed.versionErr(ctx, tx, entschema.Proposals, "proposal", p.ID, expected)
		}
		if isUniqueViolation(err) {
			return storage.DuplicateError{Record: "pending proposal", Key: p.DedupKey()}
		}
		return err
	}
	return nil
}

func (ed *EntDriver) writeAgreement(ctx context.Context, tx dialect.Tx, a *pao.Agreement, expected int64) error {
	cp := *a
	cp.Version = expected + 1
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal agreement: %w", err)
	}

	if expected == 0 {
		var partyA, partyB string
		if len(a.Parties) > 0 {
			partyA = a.Parties[0]
		}
		if len(a.Parties) > 1 {
			partyB = a.Parties[1]
		}
		q, args := ed.b.Insert(entschema.Agreements).
			Columns("id", "proposal_id", "party_a", "party_b", "arbiter", "state", "version", "created_at", "data").
			Values(a.ID, a.ProposalID, partyA, partyB, a.Arbiter, string(a.State), int64(1), millis(a.CreatedAt), string(data)).
			Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			if isUniqueViolation(err) {
				return storage.DuplicateError{Record: "agreement", Key: a.ID}
			}
			return fmt.Errorf("failed to insert agreement: %w", err)
		}
		return nil
	}

	q, args := ed.b.Update(entschema.Agreements).
		Set("state", string(a.State)).
		Set("version", expected+1).
		Set("data", string(data)).
		Where(entsql.And(entsql.EQ("id", a.ID), entsql.EQ("version", expected))).
		Query()
	if err := ed.execOne(ctx, tx, q, args); err != nil {
		if errors.Is(err, errNoRows) {
			return ed.versionErr(ctx, tx, entschema.Agreements, "agreement", a.ID, expected)
		}
		return err
	}
	return nil
}

func (ed *EntDriver) writeCase(ctx context.Context, tx dialect.Tx, c *pao.Case, expected int64) error {
	cp := *c
	cp.Version = expected + 1
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}

	if expected == 0 {
		q, args := ed.b.Insert(entschema.Cases).
			Columns("id", "agreement_id", "status", "version", "data").
			Values(c.ID, c.AgreementID, string(c.Status), int64(1), string(data)).
			Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			if isUniqueViolation(err) {
				return storage.DuplicateError{Record: "case", Key: c.ID}
			}
			return fmt.Errorf("failed to insert case: %w", err)
		}
		return nil
	}

	q, args := ed.b.Update(entschema.Cases).
		Set("status", string(c.Status)).
		Set("version", expected+1).
		Set("data", string(data)).
		Where(entsql.And(entsql.EQ("id", c.ID), entsql.EQ("version", expected))).
		Query()
	if err := ed.execOne(ctx, tx, q, args); err != nil {
		if errors.Is(err, errNoRows) {
			return ed.versionErr(ctx, tx, entschema.Cases, "case", c.ID, expected)
		}
		return err
	}
	return nil
}

func (ed *EntDriver) appendEvent(ctx context.Context, tx dialect.Tx, ev *pao.Event) (int64, error) {
	cp := *ev
	cp.Seq = 0
	data, err := json.Marshal(cp)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	q, args := ed.b.Insert(entschema.Events).
		Columns("subject", "kind", "actor", "at", "data").
		Values(ev.Subject, string(ev.Kind), ev.Actor, millis(ev.At), string(data)).
		Returning("seq").
		Query()

	var rows entsql.Rows
	if err := tx.Query(ctx, q, args, &rows); err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("event insert returned no sequence")
	}
	var seq int64
	if err := rows.Scan(&seq); err != nil {
		return 0, err
	}
	return seq, rows.Close()
}

// GetProposal retrieves a proposal by id.
func (ed *EntDriver) GetProposal(ctx context.Context, id string) (*pao.Proposal, error) {
	q, args := ed.b.Select("data").From(ed.b.Table(entschema.Proposals)).Where(entsql.EQ("id", id)).Query()
	return getOne[pao.Proposal](ctx, ed, q, args, "proposal", id)
}

// ListProposals returns proposals matching filter in creation order.
func (ed *EntDriver) ListProposals(ctx context.Context, filter storage.ProposalFilter) ([]*pao.Proposal, error) {
	var preds []*entsql.Predicate
	if filter.Party != "" {
		preds = append(preds, entsql.Or(
			entsql.EQ("proposer", filter.Party),
			entsql.EQ("counterparty", filter.Party),
			entsql.EQ("arbiter", filter.Party),
		))
	}
	if filter.Status != "" {
		preds = append(preds, entsql.EQ("status", string(filter.Status)))
	}

	sel := ed.b.Select("data").From(ed.b.Table(entschema.Proposals)).OrderBy("created_at", "id")
	if len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	q, args := sel.Query()
	return getMany[pao.Proposal](ctx, ed, q, args)
}

// GetAgreement retrieves an agreement by id.
func (ed *EntDriver) GetAgreement(ctx context.Context, id string) (*pao.Agreement, error) {
	q, args := ed.b.Select("data").From(ed.b.Table(entschema.Agreements)).Where(entsql.EQ("id", id)).Query()
	return getOne[pao.Agreement](ctx, ed, q, args, "agreement", id)
}

// ListAgreements returns agreements matching filter in creation order.
func (ed *EntDriver) ListAgreements(ctx context.Context, filter storage.AgreementFilter) ([]*pao.Agreement, error) {
	var preds []*entsql.Predicate
	if filter.Party != "" {
		preds = append(preds, entsql.Or(
			entsql.EQ("party_a", filter.Party),
			entsql.EQ("party_b", filter.Party),
			entsql.EQ("arbiter", filter.Party),
		))
	}
	if filter.State != "" {
		preds = append(preds, entsql.EQ("state", string(filter.State)))
	}

	sel := ed.b.Select("data").From(ed.b.Table(entschema.Agreements)).OrderBy("created_at", "id")
	if len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	q, args := sel.Query()
	return getMany[pao.Agreement](ctx, ed, q, args)
}

// GetCase retrieves a case by id.
func (ed *EntDriver) GetCase(ctx context.Context, id string) (*pao.Case, error) {
	q, args := ed.b.Select("data").From(ed.b.Table(entschema.Cases)).Where(entsql.EQ("id", id)).Query()
	return getOne[pao.Case](ctx, ed, q, args, "case", id)
}

// Events returns the journal entries about any of subjects in seq order.
func (ed *EntDriver) Events(ctx context.Context, subjects ...string) ([]pao.Event, error) {
	if len(subjects) == 0 {
		return nil, nil
	}
	in := make([]any, len(subjects))
	for i, s := range subjects {
		in[i] = s
	}

	q, args := ed.b.Select("seq", "data").
		From(ed.b.Table(entschema.Events)).
		Where(entsql.In("subject", in...)).
		OrderBy("seq").
		Query()

	var out []pao.Event
	err := ed.withTx(ctx, func(tx dialect.Tx) error {
		out = out[:0]
		var rows entsql.Rows
		if err := tx.Query(ctx, q, args, &rows); err != nil {
			return fmt.Errorf("failed to query events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				seq  int64
				data string
			)
			if err := rows.Scan(&seq, &data); err != nil {
				return err
			}
			var ev pao.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return fmt.Errorf("failed to decode event %d: %w", seq, err)
			}
			ev.Seq = seq
			out = append(out, ev)
		}
		return rows.Err()
	})
	return out, err
}

var errNoRows = errors.New("no rows affected")

func (ed *EntDriver) withTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := ed.Driver.Tx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (ed *EntDriver) execOne(ctx context.Context, tx dialect.Tx, q string, args []any) error {
	var res entsql.Result
	if err := tx.Exec(ctx, q, args, &res); err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNoRows
	}
	return nil
}

func (ed *EntDriver) versionErr(ctx context.Context, tx dialect.Tx, table, record, id string, expected int64) error {
	q, args := ed.b.Select("version").From(ed.b.Table(table)).Where(entsql.EQ("id", id)).Query()

	var rows entsql.Rows
	if err := tx.Query(ctx, q, args, &rows); err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		return storage.NotFoundError{Record: record, ID: id}
	}
	var actual int64
	if err := rows.Scan(&actual); err != nil {
		return err
	}
	return storage.VersionConflictError{Record: record, ID: id, Expected: expected, Actual: actual}
}

func getOne[T any](ctx context.Context, ed *EntDriver, q string, args []any, record, id string) (*T, error) {
	items, err := getMany[T](ctx, ed, q, args)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, storage.NotFoundError{Record: record, ID: id}
	}
	return items[0], nil
}

func getMany[T any](ctx context.Context, ed *EntDriver, q string, args []any) ([]*T, error) {
	var out []*T
	err := ed.withTx(ctx, func(tx dialect.Tx) error {
		out = out[:0]
		rows, err := queryStrings(ctx, tx, q, args)
		if err != nil {
			return err
		}
		for _, data := range rows {
			v := new(T)
			if err := json.Unmarshal([]byte(data), v); err != nil {
				return fmt.Errorf("failed to decode record: %w", err)
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func queryStrings(ctx context.Context, tx dialect.Tx, q string, args []any) ([]string, error) {
	var rows entsql.Rows
	if err := tx.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
