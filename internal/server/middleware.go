package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/opsledger/internal/principal"
	"go.uber.org/zap"
)

const contextPrincipalKey = "principal"

var ErrMissingJWTSecret = errors.New("AUTH_JWT_SECRET is required")

// principalClaims is the token minted by the authentication service.
// Subject carries the account id.
type principalClaims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 principal tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingJWTSecret
	}
	return &TokenVerifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}, nil
}

func (v *TokenVerifier) Verify(raw string) (principal.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims principalClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return principal.Principal{}, ErrUnauthorized
	}

	id, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
	if err != nil || id == 0 {
		return principal.Principal{}, ErrUnauthorized
	}
	role, ok := principal.ParseRole(claims.Role)
	if !ok {
		return principal.Principal{}, ErrUnauthorized
	}
	return principal.Principal{ID: id, Role: role, DisplayName: claims.Name}, nil
}

// Sign mints a token for p. Used by tooling and tests; production tokens come
// from the authentication service.
func (v *TokenVerifier) Sign(p principal.Principal, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := principalClaims{
		Role: string(p.Role),
		Name: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// PrincipalRequired resolves the bearer token into a principal and stores it
// on both the gin and request contexts.
func (s *Server) PrincipalRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor, err := s.verifier.Verify(strings.TrimSpace(raw))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextPrincipalKey, actor)
		c.Set("account_id", actor.ID.String())
		c.Request = c.Request.WithContext(principal.WithPrincipal(c.Request.Context(), actor))
		c.Next()
	}
}

// WriteRateLimit throttles mutating requests per principal. Reads pass
// through, and a limiter outage lets the request through.
func (s *Server) WriteRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		actor, ok := s.actorFromContext(c)
		if !ok {
			c.Next()
			return
		}

		res, err := s.limiter.AllowWrite(c.Request.Context(), actor.ID)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
