package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

const (
	bearerPrefix     = "bearer "
	queryTokenParam  = "access_token"
	defaultJWTLeeway = 30 * time.Second
)

var (
	errNoSubject     = errors.New("token has no usable subject")
	errBadAuthHeader = errors.New("invalid authorization header")
)

// Identity is the caller resolved from an access token.
type Identity struct {
	UserID uint
	Role   string
}

// JWTOption tunes token verification.
type JWTOption func(*jwtVerifier)

// WithLeeway sets the clock skew tolerated on exp and nbf.
func WithLeeway(leeway time.Duration) JWTOption {
	return func(v *jwtVerifier) { v.leeway = leeway }
}

// WithIssuer rejects tokens whose iss claim differs.
func WithIssuer(issuer string) JWTOption {
	return func(v *jwtVerifier) { v.issuer = issuer }
}

type jwtVerifier struct {
	secret []byte
	leeway time.Duration
	issuer string
	parser *jwt.Parser
}

// JWTProtected authenticates HMAC-signed bearer tokens and stores the caller
// in the user_id and user_role locals. Browsers cannot set headers on
// EventSource or WebSocket requests, so those may carry the token in the
// access_token query parameter.
func JWTProtected(secret string, opts ...JWTOption) fiber.Handler {
	v := &jwtVerifier{secret: []byte(secret), leeway: defaultJWTLeeway}
	for _, opt := range opts {
		opt(v)
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	v.parser = jwt.NewParser(parserOpts...)

	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		identity, err := v.verify(raw)
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return utils.SendError(c, fiber.StatusUnauthorized, "token expired")
		case errors.Is(err, errNoSubject):
			return utils.SendError(c, fiber.StatusUnauthorized, "token subject missing")
		case err != nil:
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals("user_id", identity.UserID)
		if identity.Role != "" {
			c.Locals("user_role", identity.Role)
		}
		return c.Next()
	}
}

func (v *jwtVerifier) verify(raw string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}); err != nil {
		return Identity{}, err
	}

	userID, ok := subjectFromClaims(claims)
	if !ok {
		return Identity{}, errNoSubject
	}
	return Identity{UserID: userID, Role: roleFromClaims(claims)}, nil
}

func bearerToken(c *fiber.Ctx) (string, error) {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		if !isStreamingRequest(c) {
			return "", errors.New("authorization header missing")
		}
		token := strings.TrimSpace(c.Query(queryTokenParam))
		if token == "" {
			return "", errors.New("authorization header missing")
		}
		return token, nil
	}

	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", errBadAuthHeader
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", errBadAuthHeader
	}
	return token, nil
}

func isStreamingRequest(c *fiber.Ctx) bool {
	if strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket") {
		return true
	}
	return strings.Contains(c.Get(fiber.HeaderAccept), "text/event-stream")
}

// subjectFromClaims accepts sub, user_id or id as a positive integer or its
// decimal string form.
func subjectFromClaims(claims jwt.MapClaims) (uint, bool) {
	for _, key := range []string{"sub", "user_id", "id"} {
		value, present := claims[key]
		if !present {
			continue
		}
		if id, err := parseSubject(value); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

func parseSubject(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("subject %v is not a user id", v)
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported subject type %T", value)
	}
}

// roleFromClaims returns the first non-empty role, lower-cased. Tokens may
// carry a single role or a roles array.
func roleFromClaims(claims jwt.MapClaims) string {
	if role, ok := claims["role"].(string); ok {
		if normalized := strings.ToLower(strings.TrimSpace(role)); normalized != "" {
			return normalized
		}
	}
	switch roles := claims["roles"].(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(roles))
	case []interface{}:
		for _, item := range roles {
			if role, ok := item.(string); ok {
				if normalized := strings.ToLower(strings.TrimSpace(role)); normalized != "" {
					return normalized
				}
			}
		}
	}
	return ""
}
