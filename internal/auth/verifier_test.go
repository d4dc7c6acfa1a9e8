package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abduss/storage-emulator/internal/config"
	"github.com/abduss/storage-emulator/internal/rules"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func unsignedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyUnsignedEmulatorToken(t *testing.T) {
	verifier := NewVerifier(config.AuthConfig{OwnerToken: "owner"})

	authCtx, err := verifier.Verify(unsignedToken(t, jwt.MapClaims{
		"user_id": "alice",
		"email":   "alice@example.com",
	}))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if authCtx.UID != "alice" {
		t.Fatalf("unexpected uid %q", authCtx.UID)
	}
	if authCtx.Token["email"] != "alice@example.com" {
		t.Fatalf("expected claims to be carried, got %v", authCtx.Token)
	}
	if authCtx.Admin {
		t.Fatalf("regular token must not be admin")
	}
}

func TestVerifyOwnerToken(t *testing.T) {
	verifier := NewVerifier(config.AuthConfig{OwnerToken: "owner"})

	authCtx, err := verifier.Verify("owner")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !authCtx.Admin {
		t.Fatalf("owner token should be admin")
	}
}

func TestVerifySignedToken(t *testing.T) {
	verifier := NewVerifier(config.AuthConfig{JWTSecret: "test-secret"})

	authCtx, err := verifier.Verify(signedToken(t, "test-secret", jwt.MapClaims{
		"sub": "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if authCtx.UID != "bob" {
		t.Fatalf("unexpected uid %q", authCtx.UID)
	}

	if _, err := verifier.Verify(signedToken(t, "other-secret", jwt.MapClaims{"sub": "bob"})); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
	if _, err := verifier.Verify(unsignedToken(t, jwt.MapClaims{"sub": "bob"})); err == nil {
		t.Fatalf("expected unsigned token to be rejected when a secret is configured")
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	verifier := NewVerifier(config.AuthConfig{})

	for name, token := range map[string]string{
		"empty":      "",
		"garbage":    "not-a-jwt",
		"no subject": unsignedToken(t, jwt.MapClaims{"email": "x@example.com"}),
		"expired":    unsignedToken(t, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()}),
	} {
		if _, err := verifier.Verify(token); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := NewVerifier(config.AuthConfig{OwnerToken: "owner"})

	var seen *rules.AuthContext
	r := gin.New()
	r.Use(Middleware(verifier))
	r.GET("/whoami", func(c *gin.Context) {
		seen = Current(c)
		c.Status(http.StatusOK)
	})

	cases := []struct {
		name   string
		header string
		status int
		uid    string
	}{
		{name: "anonymous", status: http.StatusOK},
		{name: "bearer", header: "Bearer " + unsignedToken(t, jwt.MapClaims{"sub": "carol"}), status: http.StatusOK, uid: "carol"},
		{name: "firebase scheme", header: "Firebase owner", status: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer nonsense", status: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		seen = nil
		req, _ := http.NewRequest(http.MethodGet, "/whoami", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rr.Code)
		}
		if tc.uid == "" && seen != nil {
			t.Fatalf("%s: expected anonymous caller, got %+v", tc.name, seen)
		}
		if tc.uid != "" && (seen == nil || seen.UID != tc.uid) {
			t.Fatalf("%s: expected uid %q, got %+v", tc.name, tc.uid, seen)
		}
	}
}
