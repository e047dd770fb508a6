// Package rfc3161 anchors evidence hashes with an RFC 3161 time-stamp
// authority.
package rfc3161

import (
	"bytes"
	"context"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/accord/pkg/anchor"
	"github.com/papercomputeco/accord/pkg/canonical"
)

// Provider is the provider name recorded on receipts.
const Provider = "rfc3161"

// maxResponseBytes caps a TSA reply.
const maxResponseBytes = 1 << 20

var oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm algorithmIdentifier
	HashedMessage []byte
}

type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	CertReq        bool                  `asn1:"optional"`
}

type pkiStatusInfo struct {
	Status       int
	StatusString asn1.RawValue  `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

type timeStampResp struct {
	Status         pkiStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKI status values a TSA may grant with.
const (
	statusGranted         = 0
	statusGrantedWithMods = 1
)

// Anchorer requests time-stamp tokens from a TSA over HTTP.
type Anchorer struct {
	URL       string
	PolicyOID string
	Client    *http.Client
	now       func() time.Time
}

// NewAnchorer creates an anchorer for the TSA at url.
func NewAnchorer(url, policyOID string) *Anchorer {
	return &Anchorer{
		URL:       url,
		PolicyOID: policyOID,
		Client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
}

// Anchor requests a time-stamp token over hash. The receipt carries the
// base64 DER token.
func (a *Anchorer) Anchor(ctx context.Context, hash string) (anchor.Receipt, error) {
	if a.URL == "" {
		return anchor.Receipt{}, anchor.ErrDisabled
	}

	reqDER, err := BuildRequest(hash, a.PolicyOID)
	if err != nil {
		return anchor.Receipt{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(reqDER))
	if err != nil {
		return anchor.Receipt{}, fmt.Errorf("failed to build tsa request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")
	httpReq.Header.Set("Accept", "application/timestamp-reply")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return anchor.Receipt{}, fmt.Errorf("failed to reach tsa: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return anchor.Receipt{}, fmt.Errorf("failed to read tsa reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return anchor.Receipt{}, fmt.Errorf("tsa returned status %d", resp.StatusCode)
	}

	token, err := ParseResponse(body)
	if err != nil {
		return anchor.Receipt{}, err
	}
	return anchor.Receipt{
		Provider: Provider,
		Receipt:  base64.StdEncoding.EncodeToString(token),
		At:       a.now().UTC(),
	}, nil
}

// BuildRequest encodes a DER TimeStampReq over a "sha256:<hex>" hash.
func BuildRequest(hash, policyOID string) ([]byte, error) {
	digest, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hash), canonical.Prefix))
	if err != nil {
		return nil, fmt.Errorf("invalid evidence hash: %w", err)
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("invalid evidence hash length: %d", len(digest))
	}

	req := timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{
				Algorithm:  oidSHA256,
				Parameters: asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagNull},
			},
			HashedMessage: digest,
		},
		CertReq: true,
	}
	if p := strings.TrimSpace(policyOID); p != "" {
		oid, err := parseOID(p)
		if err != nil {
			return nil, err
		}
		req.ReqPolicy = oid
	}
	return asn1.Marshal(req)
}

// ParseResponse checks a DER TimeStampResp and returns its token.
func ParseResponse(der []byte) ([]byte, error) {
	var resp timeStampResp
	rest, err := asn1.Unmarshal(der, &resp)
	if err != nil {
		return nil, fmt.Errorf("malformed tsa reply: %w", err)
	}
	if len(rest) != 0 {
		return nil, errors.New("malformed tsa reply: trailing data")
	}
	if s := resp.Status.Status; s != statusGranted && s != statusGrantedWithMods {
		return nil, fmt.Errorf("tsa rejected request with status %d", s)
	}
	if len(resp.TimeStampToken.FullBytes) == 0 {
		return nil, errors.New("tsa reply carries no token")
	}
	return resp.TimeStampToken.FullBytes, nil
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid policy oid %q", s)
	}
	out := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid policy oid %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}
