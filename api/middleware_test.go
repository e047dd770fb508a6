package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/agreement"
	"github.com/papercomputeco/accord/pkg/arbitration"
	accordlogger "github.com/papercomputeco/accord/pkg/logger"
	testutils "github.com/papercomputeco/accord/pkg/utils/test"
)

var _ = Describe("Middleware", func() {
	var (
		agents *testutils.Agents
		alice  string
	)

	newServer := func(mutate func(*Config)) *Server {
		cfg := Config{
			ListenAddr:  ":0",
			Identity:    agents.Identity,
			Agreements:  agreement.NewService(agents.Store, agents.Identity, agreement.WithClock(agents.Clock.Now)),
			Arbitration: arbitration.NewService(agents.Store, agents.Identity, arbitration.WithClock(agents.Clock.Now)),
			Timeline:    agents.Store,
			Now:         agents.Clock.Now,
		}
		mutate(&cfg)
		s, err := NewServer(cfg, accordlogger.Nop())
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	get := func(s *Server, path string, headers map[string]string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, path, nil)
		Expect(err).NotTo(HaveOccurred())
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := s.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		agents = testutils.NewAgents(testutils.NewClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)))
		alice = agents.Create("alice")
	})

	Describe("rate limiting", func() {
		It("refuses requests past the per-minute limit", func() {
			s := newServer(func(c *Config) { c.RateLimit = 2 })

			Expect(get(s, "/ping", nil).StatusCode).To(Equal(fiber.StatusOK))
			resp := get(s, "/ping", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			Expect(resp.Header.Get("X-RateLimit-Remaining")).To(Equal("0"))
			Expect(get(s, "/ping", nil).StatusCode).To(Equal(fiber.StatusTooManyRequests))
		})

		It("is off when the limit is zero", func() {
			s := newServer(func(*Config) {})
			for range 5 {
				Expect(get(s, "/ping", nil).StatusCode).To(Equal(fiber.StatusOK))
			}
		})
	})

	Describe("CORS", func() {
		It("echoes only allowed origins", func() {
			s := newServer(func(c *Config) { c.AllowedOrigins = []string{"https://app.example"} })

			resp := get(s, "/ping", map[string]string{"Origin": "https://app.example"})
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("https://app.example"))

			resp = get(s, "/ping", map[string]string{"Origin": "https://evil.example"})
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(BeEmpty())
		})

		It("sends no CORS headers without an allow-list", func() {
			s := newServer(func(*Config) {})
			resp := get(s, "/ping", map[string]string{"Origin": "https://app.example"})
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(BeEmpty())
		})
	})

	Describe("authentication", func() {
		var s *Server

		BeforeEach(func() {
			s = newServer(func(c *Config) {
				c.RequireAuth = true
				c.APIKey = "s3cret-key"
			})
		})

		signed := func(path string, at time.Time) map[string]string {
			ms := at.UnixMilli()
			return map[string]string{
				HeaderDID:          alice,
				HeaderDIDTimestamp: strconv.FormatInt(ms, 10),
				HeaderDIDSignature: agents.Sign(alice, RequestMessage(http.MethodGet, path, ms)),
			}
		}

		It("leaves ping and identity lookups public", func() {
			Expect(get(s, "/ping", nil).StatusCode).To(Equal(fiber.StatusOK))
			Expect(get(s, "/v1/identities/"+alice, nil).StatusCode).To(Equal(fiber.StatusOK))
		})

		It("refuses anonymous reads", func() {
			Expect(get(s, "/v1/agreements", nil).StatusCode).To(Equal(fiber.StatusUnauthorized))
			Expect(get(s, "/mcp", nil).StatusCode).To(Equal(fiber.StatusUnauthorized))
		})

		It("accepts the configured API key only", func() {
			Expect(get(s, "/v1/agreements", map[string]string{HeaderAPIKey: "s3cret-key"}).StatusCode).To(Equal(fiber.StatusOK))
			Expect(get(s, "/v1/agreements", map[string]string{HeaderAPIKey: "guess"}).StatusCode).To(Equal(fiber.StatusUnauthorized))
		})

		It("accepts a fresh DID-signed request", func() {
			resp := get(s, "/v1/agreements", signed("/v1/agreements", agents.Clock.Now()))
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		})

		It("refuses a signature over another path", func() {
			resp := get(s, "/v1/proposals", signed("/v1/agreements", agents.Clock.Now()))
			Expect(resp.StatusCode).To(Equal(fiber.StatusUnauthorized))
		})

		It("refuses a replayed request", func() {
			headers := signed("/v1/agreements", agents.Clock.Now())
			agents.Clock.Advance(10 * time.Minute)
			Expect(get(s, "/v1/agreements", headers).StatusCode).To(Equal(fiber.StatusUnauthorized))
		})

		It("refuses unknown DIDs", func() {
			headers := signed("/v1/agreements", agents.Clock.Now())
			headers[HeaderDID] = "did:agent:test:mallory"
			Expect(get(s, "/v1/agreements", headers).StatusCode).To(Equal(fiber.StatusUnauthorized))
		})
	})
})
