package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func newJWTApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTProtected(testSecret))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": c.Locals("user_id"), "role": c.Locals("user_role")})
	})
	return app
}

func TestJWTProtectedSetsIdentity(t *testing.T) {
	app := newJWTApp()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{"sub": "42", "role": "Teacher"}))

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := newJWTApp()

	missing := httptest.NewRequest(http.MethodGet, "/me", nil)
	resp, err := app.Test(missing)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": 1}).SignedString([]byte("other"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestJWTProtectedQueryTokenOnlyForStreams(t *testing.T) {
	app := newJWTApp()
	token := signedToken(t, jwt.MapClaims{"sub": float64(7), "role": "student"})

	plain := httptest.NewRequest(http.MethodGet, "/me?access_token="+token, nil)
	resp, err := app.Test(plain)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	stream := httptest.NewRequest(http.MethodGet, "/me?access_token="+token, nil)
	stream.Header.Set("Accept", "text/event-stream")
	resp, err = app.Test(stream)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTProtectedClaimRules(t *testing.T) {
	app := newJWTApp()
	now := time.Now()

	cases := []struct {
		name   string
		claims jwt.MapClaims
		status int
	}{
		{"roles array", jwt.MapClaims{"user_id": "9", "roles": []interface{}{"", "Assistant"}}, fiber.StatusOK},
		{"within leeway", jwt.MapClaims{"sub": "9", "exp": now.Add(-10 * time.Second).Unix()}, fiber.StatusOK},
		{"expired", jwt.MapClaims{"sub": "9", "exp": now.Add(-time.Hour).Unix()}, fiber.StatusUnauthorized},
		{"no subject", jwt.MapClaims{"role": "teacher"}, fiber.StatusUnauthorized},
		{"zero subject", jwt.MapClaims{"sub": "0"}, fiber.StatusUnauthorized},
		{"fractional subject", jwt.MapClaims{"sub": 1.5}, fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set("Authorization", "bearer "+signedToken(t, tc.claims))
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestJWTProtectedIssuerAndAlgorithm(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected(testSecret, WithIssuer("gema"), WithLeeway(0)))
	app.Get("/me", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusNoContent, send(signedToken(t, jwt.MapClaims{"sub": "3", "iss": "gema"})))
	require.Equal(t, fiber.StatusUnauthorized, send(signedToken(t, jwt.MapClaims{"sub": "3", "iss": "other"})))

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "3", "iss": "gema"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, send(unsigned))
}
