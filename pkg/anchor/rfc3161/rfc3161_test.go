package rfc3161_test

import (
	"context"
	"encoding/asn1"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/anchor"
	"github.com/papercomputeco/accord/pkg/anchor/rfc3161"
	"github.com/papercomputeco/accord/pkg/canonical"
)

type status struct {
	Status int
}

type reply struct {
	Status status
	Token  asn1.RawValue `asn1:"optional"`
}

var token = []byte{0x30, 0x03, 0x02, 0x01, 0x07}

func tsa(code int) (*httptest.Server, *[]byte) {
	var got []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		if r.Header.Get("Content-Type") != "application/timestamp-query" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		der, _ := asn1.Marshal(reply{Status: status{Status: code}, Token: asn1.RawValue{FullBytes: token}})
		w.Header().Set("Content-Type", "application/timestamp-reply")
		_, _ = w.Write(der)
	}))
	DeferCleanup(server.Close)
	return server, &got
}

var _ = Describe("Anchorer", func() {
	hash := canonical.String("tracking#123")

	It("builds a DER request over the digest", func() {
		der, err := rfc3161.BuildRequest(hash, "1.2.3.4")
		Expect(err).NotTo(HaveOccurred())
		Expect(der[0]).To(Equal(byte(0x30)))
	})

	It("rejects hashes that are not sha256", func() {
		_, err := rfc3161.BuildRequest("sha256:abcd", "")
		Expect(err).To(MatchError(ContainSubstring("length")))

		_, err = rfc3161.BuildRequest(hash, "1.x")
		Expect(err).To(MatchError(ContainSubstring("policy oid")))
	})

	It("returns the granted token as the receipt", func() {
		server, got := tsa(0)
		a := rfc3161.NewAnchorer(server.URL, "")

		receipt, err := a.Anchor(context.Background(), hash)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipt.Provider).To(Equal(rfc3161.Provider))
		Expect(receipt.Receipt).To(Equal(base64.StdEncoding.EncodeToString(token)))

		want, err := rfc3161.BuildRequest(hash, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(*got).To(Equal(want))
	})

	It("fails when the authority rejects the request", func() {
		server, _ := tsa(2)
		_, err := rfc3161.NewAnchorer(server.URL, "").Anchor(context.Background(), hash)
		Expect(err).To(MatchError(ContainSubstring("status 2")))
	})

	It("is disabled without a url", func() {
		_, err := rfc3161.NewAnchorer("", "").Anchor(context.Background(), hash)
		Expect(err).To(MatchError(anchor.ErrDisabled))
	})

	It("rejects malformed replies", func() {
		_, err := rfc3161.ParseResponse([]byte(strings.Repeat("x", 4)))
		Expect(err).To(HaveOccurred())
	})
})
