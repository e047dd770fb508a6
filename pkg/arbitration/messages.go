package arbitration

import (
	"github.com/papercomputeco/accord/pkg/canonical"
	"github.com/papercomputeco/accord/pkg/pao"
)

// FulfillMessage is the digest a party signs to claim fulfillment.
func FulfillMessage(a *pao.Agreement, actor, evidence string) (string, error) {
	return pao.ActionDigest(pao.ActionFulfill, a.ID, actor, map[string]string{
		"termsHash":    a.TermsHash,
		"evidenceHash": canonical.String(evidence),
	})
}

// ArbitrateMessage is the digest a party signs to open a dispute. Empty
// evidence binds no evidence hash.
func ArbitrateMessage(a *pao.Agreement, actor string, reason pao.BreachReason, evidence string) (string, error) {
	fields := map[string]string{
		"termsHash": a.TermsHash,
		"reason":    string(reason),
	}
	if evidence != "" {
		fields["evidenceHash"] = canonical.String(evidence)
	}
	return pao.ActionDigest(pao.ActionArbitrate, a.ID, actor, fields)
}

// SubmitMessage is the digest signed to submit evidence to a case.
func SubmitMessage(c *pao.Case, actor, evidence string, typ pao.EvidenceType) (string, error) {
	return pao.ActionDigest(pao.ActionSubmit, c.ID, actor, map[string]string{
		"termsHash":    c.TermsHash,
		"evidenceHash": canonical.String(evidence),
		"type":         string(typ),
	})
}

// RulingMessage is the digest the arbiter signs to rule.
func RulingMessage(c *pao.Case, actor string, decision pao.Decision, reasoning string) (string, error) {
	return pao.ActionDigest(pao.ActionRuling, c.ID, actor, map[string]string{
		"termsHash":     c.TermsHash,
		"decision":      string(decision),
		"reasoningHash": canonical.String(reasoning),
	})
}
