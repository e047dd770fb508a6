package cliui_test

import (
	"bytes"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/cliui"
)

var _ = Describe("cliui", func() {
	It("formats durations", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})

	It("reports the step outcome", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "publishing", func() error { return errors.New("boom") })
		Expect(err).To(MatchError("boom"))
		Expect(buf.String()).To(ContainSubstring("publishing"))
		Expect(buf.String()).To(HaveSuffix("\n"))
	})

	It("prints unset fields as placeholders", func() {
		var buf bytes.Buffer
		cliui.Field(&buf, "controller", "")
		Expect(buf.String()).To(ContainSubstring("<not set>"))
	})

	It("keeps the state text in badges", func() {
		Expect(cliui.Badge("disputed")).To(ContainSubstring("disputed"))
	})

	It("accepts only explicit confirmations", func() {
		var out bytes.Buffer
		Expect(cliui.Confirm(strings.NewReader("yes\n"), &out, "Recover?")).To(BeTrue())
		Expect(cliui.Confirm(strings.NewReader("\n"), &out, "Recover?")).To(BeFalse())
		Expect(cliui.Confirm(strings.NewReader("nope\n"), &out, "Recover?")).To(BeFalse())
	})
})
