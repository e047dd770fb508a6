// Package registry publishes DID documents to the places other agents look
// them up.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
)

// Target names.
const (
	TargetLocal = "local"
	TargetHTTP  = "http"
)

// Result describes where a document was published.
type Result struct {
	Target      string    `json:"target"`
	Location    string    `json:"location"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Local writes documents as JSON files under a directory, one file per DID.
type Local struct {
	Dir string
}

// NewLocal creates a local publisher rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{Dir: dir}
}

// Publish writes doc to <dir>/<did>.json, replacing any earlier version.
func (l *Local) Publish(_ context.Context, doc *did.Document) (Result, error) {
	if doc == nil || doc.DID == "" {
		return Result{}, errs.Validation("cannot publish a document without a DID")
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create registry dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal document: %w", err)
	}

	path := filepath.Join(l.Dir, FileName(doc.DID))
	tmp, err := os.CreateTemp(l.Dir, ".publish-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Result{}, fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Result{}, fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return Result{}, fmt.Errorf("failed to publish document: %w", err)
	}

	return Result{Target: TargetLocal, Location: path, PublishedAt: time.Now().UTC()}, nil
}

// Lookup reads a previously published document.
func (l *Local) Lookup(_ context.Context, subject string) (*did.Document, error) {
	data, err := os.ReadFile(filepath.Join(l.Dir, FileName(subject)))
	if os.IsNotExist(err) {
		return nil, errs.NotFound("no published document for %s", subject)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	doc := &did.Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return doc, nil
}

// FileName is the file a DID's document is stored under.
func FileName(subject string) string {
	return strings.ReplaceAll(subject, ":", "_") + ".json"
}

// HTTP POSTs documents as JSON to a registry endpoint.
type HTTP struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewHTTP creates an HTTP publisher for endpoint.
func NewHTTP(endpoint, token string) *HTTP {
	return &HTTP{URL: endpoint, Token: token, Client: &http.Client{Timeout: 15 * time.Second}}
}

// Publish POSTs doc to the registry. The Location header of the response, if
// any, is reported as where the document now lives.
func (h *HTTP) Publish(ctx context.Context, doc *did.Document) (Result, error) {
	if h.URL == "" {
		return Result{}, errs.Validation("registry url is not configured")
	}
	if doc == nil || doc.DID == "" {
		return Result{}, errs.Validation("cannot publish a document without a DID")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to reach registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("registry returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	location := resp.Header.Get("Location")
	if location == "" {
		location = h.URL
	}
	return Result{Target: TargetHTTP, Location: location, PublishedAt: time.Now().UTC()}, nil
}

// Lookup GETs the document for subject from <url>/<subject>.
func (h *HTTP) Lookup(ctx context.Context, subject string) (*did.Document, error) {
	if h.URL == "" {
		return nil, errs.Validation("registry url is not configured")
	}

	endpoint := strings.TrimSuffix(h.URL, "/") + "/" + url.PathEscape(subject)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.NotFound("registry has no document for %s", subject)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("registry returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	doc := &did.Document{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return doc, nil
}
