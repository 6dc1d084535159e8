package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sbt-vault/engine/internal/api/types"
	"github.com/sbt-vault/engine/internal/services"
	"github.com/sbt-vault/engine/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if _, err := logger.Init("error", "console"); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type stubParser struct {
	claims *services.Claims
}

func (p stubParser) ParseToken(token string) (*services.Claims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return p.claims, nil
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) types.APIResponse {
	t.Helper()
	var out types.APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestAuthPutsSubjectInContext(t *testing.T) {
	uid := uuid.New()
	parser := stubParser{claims: &services.Claims{Email: "ada@example.com", RegisteredClaims: jwt.RegisteredClaims{Subject: uid.String()}}}

	var gotID uuid.UUID
	var gotEmail string
	h := Auth(parser)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetUserID(r.Context())
		gotEmail = GetUserEmail(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, uid, gotID)
	require.Equal(t, "ada@example.com", gotEmail)

	gotID = uuid.Nil
	req = httptest.NewRequest(http.MethodGet, "/?access_token=good", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, uid, gotID)
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	h := Auth(stubParser{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthorized", decode(t, rr).Error.Code)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestIPLimiterThrottlesPerClient(t *testing.T) {
	l := NewIPLimiter(0.001, 2)
	h := l.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = ip + ":1234"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusOK, call("198.51.100.1"))
	require.Equal(t, http.StatusOK, call("198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, call("198.51.100.1"))
	require.Equal(t, http.StatusOK, call("198.51.100.2"))
}

func TestRecoveryReturnsEnvelope(t *testing.T) {
	h := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	out := decode(t, rr)
	require.False(t, out.Success)
	require.Equal(t, "internal", out.Error.Code)
	require.Equal(t, rr.Header().Get("X-Request-ID"), out.Meta.RequestID)
}

func TestRequestIDReplacesOversizedHeader(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(rr, req)
	require.Equal(t, "abc", rr.Header().Get("X-Request-ID"))

	rr = httptest.NewRecorder()
	req.Header.Set("X-Request-ID", string(make([]byte, 200)))
	h.ServeHTTP(rr, req)
	_, err := uuid.Parse(rr.Header().Get("X-Request-ID"))
	require.NoError(t, err)
}

func TestStatusRecorderWithoutHijacker(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	_, _, err := rec.Hijack()
	require.ErrorIs(t, err, http.ErrNotSupported)

	rec.WriteHeader(http.StatusTeapot)
	n, err := rec.Write([]byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, http.StatusTeapot, rec.status)
	require.Equal(t, 2, rec.bytes)
}
