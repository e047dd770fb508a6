// Package schema declares the SQL tables behind the ent-backed drivers.
// Records are stored as JSON in a data column next to the columns used for
// lookups, version checks, and ordering. Timestamps are unix milliseconds.
package schema

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table names.
const (
	Identities   = "identities"
	IdentityKeys = "identity_keys"
	Proposals    = "proposals"
	Agreements   = "agreements"
	Cases        = "cases"
	Events       = "events"
)

// Tables returns fresh table definitions for migration.
func Tables() []*schema.Table {
	identities := schema.NewTable(Identities).
		AddPrimary(str("subject")).
		AddColumn(str("did")).
		AddColumn(str("legacy_id")).
		AddColumn(str("status")).
		AddColumn(i64("version")).
		AddColumn(i64("created_at")).
		AddColumn(text("data")).
		AddIndex("identities_legacy_id", false, []string{"legacy_id"})

	// identity_keys is the append-only key history, one row per link.
	keys := schema.NewTable(IdentityKeys).
		AddPrimary(str("subject")).
		AddPrimary(i64("seq")).
		AddColumn(str("key_id")).
		AddColumn(text("data")).
		AddIndex("identity_keys_subject_key_id", true, []string{"subject", "key_id"})

	proposals := schema.NewTable(Proposals).
		AddPrimary(str("id")).
		AddColumn(str("proposer")).
		AddColumn(str("counterparty")).
		AddColumn(str("arbiter")).
		AddColumn(str("status")).
		AddColumn(&schema.Column{Name: "dedup_key", Type: field.TypeString, Size: 512, Nullable: true}).
		AddColumn(i64("version")).
		AddColumn(i64("created_at")).
		AddColumn(text("data")).
		AddIndex("proposals_dedup_key", true, []string{"dedup_key"}).
		AddIndex("proposals_created_at", false, []string{"created_at"})

	agreements := schema.NewTable(Agreements).
		AddPrimary(str("id")).
		AddColumn(str("proposal_id")).
		AddColumn(str("party_a")).
		AddColumn(str("party_b")).
		AddColumn(str("arbiter")).
		AddColumn(str("state")).
		AddColumn(i64("version")).
		AddColumn(i64("created_at")).
		AddColumn(text("data")).
		AddIndex("agreements_proposal_id", true, []string{"proposal_id"}).
		AddIndex("agreements_created_at", false, []string{"created_at"})

	cases := schema.NewTable(Cases).
		AddPrimary(str("id")).
		AddColumn(str("agreement_id")).
		AddColumn(str("status")).
		AddColumn(i64("version")).
		AddColumn(text("data")).
		AddIndex("cases_agreement_id", true, []string{"agreement_id"})

	events := schema.NewTable(Events).
		AddPrimary(&schema.Column{Name: "seq", Type: field.TypeInt64, Increment: true}).
		AddColumn(str("subject")).
		AddColumn(str("kind")).
		AddColumn(str("actor")).
		AddColumn(i64("at")).
		AddColumn(text("data")).
		AddIndex("events_subject", false, []string{"subject"})

	return []*schema.Table{identities, keys, proposals, agreements, cases, events}
}

func str(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Size: 512}
}

func i64(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeInt64}
}

func text(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Size: 1 << 20}
}
