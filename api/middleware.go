package api

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/papercomputeco/accord/pkg/errs"
)

// Request authentication headers.
const (
	HeaderAPIKey       = "X-API-Key"
	HeaderDID          = "X-DID"
	HeaderDIDSignature = "X-DID-Signature"
	HeaderDIDTimestamp = "X-DID-Timestamp"
)

// requestSkew bounds how old a signed request timestamp may be.
const requestSkew = 5 * time.Minute

// RequestMessage is the text a caller signs to authenticate a request.
func RequestMessage(method, path string, timestampMillis int64) string {
	return fmt.Sprintf("%s:%s:%d", strings.ToUpper(method), path, timestampMillis)
}

func (s *Server) rateLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        s.config.RateLimit,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{Error: "too many requests"})
		},
	})
}

func (s *Server) corsPolicy() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.AllowedOrigins, ","),
		AllowMethods: strings.Join([]string{fiber.MethodGet, fiber.MethodPost, fiber.MethodOptions}, ","),
		AllowHeaders: strings.Join([]string{
			fiber.HeaderContentType,
			HeaderAPIKey,
			HeaderDID,
			HeaderDIDSignature,
			HeaderDIDTimestamp,
		}, ","),
	})
}

// authenticate admits requests carrying the configured API key or a fresh
// signature by a known, uncompromised DID over RequestMessage.
func (s *Server) authenticate(c *fiber.Ctx) error {
	if !s.config.RequireAuth {
		return c.Next()
	}

	if key := c.Get(HeaderAPIKey); key != "" && s.config.APIKey != "" &&
		subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIKey)) == 1 {
		return c.Next()
	}

	subject := c.Get(HeaderDID)
	signature := c.Get(HeaderDIDSignature)
	stamp := c.Get(HeaderDIDTimestamp)
	if subject == "" || signature == "" || stamp == "" {
		return unauthenticated(c, "authentication required: send "+HeaderAPIKey+" or sign the request with "+
			HeaderDID+", "+HeaderDIDSignature+" and "+HeaderDIDTimestamp)
	}

	ms, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return unauthenticated(c, "invalid "+HeaderDIDTimestamp)
	}
	if skew := s.now().Sub(time.UnixMilli(ms)).Abs(); skew > requestSkew {
		return unauthenticated(c, "request timestamp expired or invalid")
	}

	msg := RequestMessage(c.Method(), c.Path(), ms)
	if _, err := s.config.Identity.Authenticate(c.UserContext(), subject, msg, signature); err != nil {
		s.logger.Warn("request signature rejected", "did", subject, "path", c.Path(), "error", err)
		return unauthenticated(c, err.Error())
	}

	return c.Next()
}

func (s *Server) now() time.Time {
	if s.config.Now != nil {
		return s.config.Now()
	}
	return time.Now()
}

func unauthenticated(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: msg, Kind: errs.KindUnauthorized})
}
