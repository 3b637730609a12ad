package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rightside-club/service-discount/internal/domain/access"
	"github.com/rightside-club/service-discount/internal/pkg/response"
)

const (
	// HeaderActorID carries the numeric identity of the caller. The edge
	// gateway is trusted to have authenticated it before forwarding.
	HeaderActorID   = "X-Actor-ID"
	headerRequestID = "X-Request-ID"

	ctxRequestID = "request_id"
	ctxActorID   = "actor_id"
	ctxActorRole = "actor_role"
)

// PrincipalResolver looks up the registered principal for a Telegram user ID.
type PrincipalResolver func(ctx context.Context, telegramUserID string) (*access.Principal, error)

// RequestID ensures every request has a correlation ID, generating one when
// the client did not supply it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Writer.Header().Set(headerRequestID, id)
		c.Next()
	}
}

// Logger emits one structured line per request.
func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// Recovery converts panics into 500 responses instead of dropping the
// connection.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(500, response.Envelope{
					OK:    false,
					Error: "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// SecurityHeaders sets conservative defaults on every response.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// CORS allows browser tooling to reach the API during development.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-Actor-ID, X-Request-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// ActorAuth resolves the caller's principal from the X-Actor-ID header and
// stores the identity and role in the request context. Requests without a
// header get 401; identities without a principal row get 403.
func ActorAuth(resolve PrincipalResolver, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderActorID)
		if raw == "" {
			c.AbortWithStatusJSON(401, response.Envelope{
				OK:    false,
				Error: "missing " + HeaderActorID + " header",
			})
			return
		}
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			c.AbortWithStatusJSON(401, response.Envelope{
				OK:    false,
				Error: "malformed " + HeaderActorID + " header",
			})
			return
		}

		p, err := resolve(c.Request.Context(), raw)
		if err != nil {
			log.Warn("actor lookup rejected",
				zap.String("actor_id", raw),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(403, response.Envelope{
				OK:    false,
				Error: "access denied",
			})
			return
		}

		c.Set(ctxActorID, raw)
		c.Set(ctxActorRole, string(p.Role()))
		c.Next()
	}
}

// RequireRole gates a route group behind a minimum role in the hierarchy.
func RequireRole(min access.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := access.Role(c.GetString(ctxActorRole))
		if !access.HasRole(role, min) {
			c.AbortWithStatusJSON(403, response.Envelope{
				OK:    false,
				Error: "insufficient role",
			})
			return
		}
		c.Next()
	}
}

// ActorID returns the authenticated caller's Telegram user ID.
func ActorID(c *gin.Context) string {
	return c.GetString(ctxActorID)
}

// ActorRole returns the authenticated caller's role.
func ActorRole(c *gin.Context) access.Role {
	return access.Role(c.GetString(ctxActorRole))
}
