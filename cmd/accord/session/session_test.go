package session_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/config"
	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/pao"
)

func newCmd(configDir string, extra ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config-dir", configDir, "")
	cmd.Flags().Bool("debug", false, "")
	session.AddFlags(cmd, extra...)
	return cmd
}

var _ = Describe("Load", func() {
	var configDir string

	BeforeEach(func() {
		configDir = GinkgoT().TempDir()
	})

	It("uses defaults without a config file", func() {
		cfg, paths, err := session.Load(newCmd(configDir))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Driver).To(Equal("sqlite"))
		Expect(paths.Home).To(Equal(configDir))
	})

	It("prefers flags over environment over the config file", func() {
		cfger, err := config.NewConfiger(configDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfger.SetConfigValue("agent.did", "did:agent:file:one")).To(Succeed())
		Expect(cfger.SetConfigValue("storage.driver", "memory")).To(Succeed())

		cfg, _, err := session.Load(newCmd(configDir))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Agent.DID).To(Equal("did:agent:file:one"))
		Expect(cfg.Storage.Driver).To(Equal("memory"))

		Expect(os.Setenv("ACCORD_AGENT_DID", "did:agent:env:two")).To(Succeed())
		DeferCleanup(os.Unsetenv, "ACCORD_AGENT_DID")

		cfg, _, err = session.Load(newCmd(configDir))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Agent.DID).To(Equal("did:agent:env:two"))

		cmd := newCmd(configDir)
		Expect(cmd.Flags().Set("as", "did:agent:flag:three")).To(Succeed())
		cfg, _, err = session.Load(cmd)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Agent.DID).To(Equal("did:agent:flag:three"))
	})

	It("binds extra flags only when asked", func() {
		cmd := newCmd(configDir, config.FlagAPIListen)
		Expect(cmd.Flags().Set("listen", ":9999")).To(Succeed())

		cfg, _, err := session.Load(cmd, config.FlagAPIListen)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.API.Listen).To(Equal(":9999"))
	})

	It("reports invalid configuration as a validation error", func() {
		Expect(os.Setenv("ACCORD_PROTOCOL_PROPOSAL_TTL", "whenever")).To(Succeed())
		DeferCleanup(os.Unsetenv, "ACCORD_PROTOCOL_PROPOSAL_TTL")

		_, _, err := session.Load(newCmd(configDir))
		Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
	})
})

var _ = Describe("Session", func() {
	var (
		s   *session.Session
		out *bytes.Buffer
	)

	BeforeEach(func() {
		cmd := newCmd(GinkgoT().TempDir())
		Expect(cmd.Flags().Set("storage", "memory")).To(Succeed())
		out = &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetContext(context.Background())

		var err error
		s, err = session.Open(cmd)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
	})

	It("requires an acting identity", func() {
		_, err := s.Actor()
		Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))

		s.Config.Agent.DID = "did:agent:acme:alice"
		Expect(s.Actor()).To(Equal("did:agent:acme:alice"))
	})

	It("prints human output by default", func() {
		Expect(s.Print(map[string]int{"n": 1}, func(w io.Writer) { fmt.Fprint(w, "human") })).To(Succeed())
		Expect(out.String()).To(Equal("human"))
	})

	It("prints indented JSON with --json", func() {
		s.JSON = true
		Expect(s.Print(map[string]int{"n": 1}, nil)).To(Succeed())
		Expect(out.String()).To(Equal("{\n  \"n\": 1\n}\n"))
	})
})

var _ = Describe("Render", func() {
	var out *bytes.Buffer
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	BeforeEach(func() {
		out = &bytes.Buffer{}
	})

	It("renders identities with their key history", func() {
		session.RenderIdentity(out, &did.Identity{
			DID:          "did:agent:acme:alice",
			Scheme:       did.SchemeChain,
			Status:       did.StatusActive,
			CurrentKeyID: "#key-1",
			Keys: []did.KeyRecord{
				{KeyID: "#key-0", Method: did.KeyGenesis, CreatedAt: now},
				{KeyID: "#key-1", Seq: 1, Method: did.KeyRotation, Reason: did.ReasonScheduled, PreviousKeyID: "#key-0", CreatedAt: now},
			},
		})
		Expect(out.String()).To(ContainSubstring("did:agent:acme:alice"))
		Expect(out.String()).To(ContainSubstring("#key-0"))
		Expect(out.String()).To(ContainSubstring("scheduled"))
		Expect(out.String()).To(ContainSubstring("current"))
	})

	It("renders cases with their evidence", func() {
		session.RenderCase(out, &pao.Case{
			ID:          "case_1",
			AgreementID: "agr_1",
			Claimant:    "did:agent:acme:alice",
			Respondent:  "did:agent:acme:bob",
			Arbiter:     "did:agent:acme:carol",
			Reason:      pao.ReasonQuality,
			Status:      pao.CaseEvidenceCollection,
			Evidence: []pao.Evidence{
				{Submitter: "did:agent:acme:alice", Type: pao.EvidenceDocument, Content: "photos", ContentHash: "sha256:photos", SubmittedAt: now},
			},
		})
		Expect(out.String()).To(ContainSubstring("case_1"))
		Expect(out.String()).To(ContainSubstring("did:agent:acme:bob"))
		Expect(out.String()).To(ContainSubstring("sha256:photos"))
	})
})
