package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/sbt-vault/engine/internal/models"
	"github.com/sbt-vault/engine/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_, _ = logger.Init("error", "console")
	os.Exit(m.Run())
}

func reputationServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClassifyCleanAndAnonymized(t *testing.T) {
	srv := reputationServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-Key"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/203.0.113.9":
			_, _ = w.Write([]byte(`{"status":"success","data":{"ip":"203.0.113.9","country_name":"Nigeria","block":0,"city":"Lagos","isp":"ISP"}}`))
		default:
			_, _ = w.Write([]byte(`{"status":"success","data":{"ip":"198.51.100.1","country_name":"Nowhere","block":1}}`))
		}
	})
	gate := NewGate(Options{ReputationURL: srv.URL, ReputationKey: "secret", FailClosed: true})

	clean := gate.Classify(context.Background(), "203.0.113.9")
	require.Equal(t, RiskClean, clean.Risk)
	require.False(t, clean.Blocked())
	require.Equal(t, "Nigeria", clean.Country)
	require.Equal(t, "Lagos", clean.City)

	vpn := gate.Classify(context.Background(), "198.51.100.1")
	require.Equal(t, RiskAnonymized, vpn.Risk)
	require.True(t, vpn.Blocked())
	require.False(t, vpn.Degraded)
}

func TestClassifyFailsClosed(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		"bad body":     func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) },
		"error status": func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"status":"error"}`)) },
	} {
		t.Run(name, func(t *testing.T) {
			srv := reputationServer(t, handler)

			closed := NewGate(Options{ReputationURL: srv.URL, FailClosed: true}).Classify(context.Background(), "203.0.113.9")
			require.True(t, closed.Degraded)
			require.Equal(t, RiskAnonymized, closed.Risk)

			open := NewGate(Options{ReputationURL: srv.URL, FailClosed: false}).Classify(context.Background(), "203.0.113.9")
			require.True(t, open.Degraded)
			require.Equal(t, RiskClean, open.Risk)
		})
	}
}

func TestClassifyUnreachableService(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := NewGate(Options{ReputationURL: url, FailClosed: true}).Classify(context.Background(), "203.0.113.9")
	require.True(t, a.Blocked())
	require.True(t, a.Degraded)
}

func TestClassifyLocalAddressUsesEcho(t *testing.T) {
	var reputationCalls atomic.Int32
	srv := reputationServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/echo" {
			_, _ = w.Write([]byte(`{"ip":"203.0.113.50"}`))
			return
		}
		reputationCalls.Add(1)
		require.Equal(t, "/rep/203.0.113.50", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","data":{"ip":"203.0.113.50","country_name":"Ghana","block":0}}`))
	})

	a := NewGate(Options{ReputationURL: srv.URL + "/rep", EchoURL: srv.URL + "/echo", FailClosed: true}).
		Classify(context.Background(), "127.0.0.1")
	require.Equal(t, "203.0.113.50", a.Address)
	require.Equal(t, RiskClean, a.Risk)
	require.EqualValues(t, 1, reputationCalls.Load())
}

func TestClassifyLocalAddressWithoutEcho(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := NewGate(Options{ReputationURL: url, EchoURL: url, FailClosed: true}).Classify(context.Background(), "10.0.0.8")
	require.True(t, a.Local)
	require.Equal(t, RiskClean, a.Risk)
	require.Equal(t, "127.0.0.1", a.Address)
	require.Equal(t, "Localhost", a.Country)
}

type stubCountries struct {
	country string
	err     error
}

func (s stubCountries) Country(string) (string, error) { return s.country, s.err }

func TestClassifyFillsCountryFromGeoIP(t *testing.T) {
	srv := reputationServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"ip":"203.0.113.9","block":0}}`))
	})

	a := NewGate(Options{ReputationURL: srv.URL, GeoIP: stubCountries{country: "Kenya"}}).Classify(context.Background(), "203.0.113.9")
	require.Equal(t, "Kenya", a.Country)

	a = NewGate(Options{ReputationURL: srv.URL, GeoIP: stubCountries{err: errors.New("miss")}}).Classify(context.Background(), "203.0.113.9")
	require.Empty(t, a.Country)
}

func TestFingerprint(t *testing.T) {
	require.Equal(t, models.UnknownFingerprint, Fingerprint(nil))
	require.Equal(t, models.UnknownFingerprint, Fingerprint(map[string]string{"canvas": "  "}))

	a := Fingerprint(map[string]string{"canvas": "c1", "audio": "a1"})
	b := Fingerprint(map[string]string{"Audio": "a1", "canvas": "c1 "})
	require.Equal(t, a, b)
	require.Len(t, a, 64)
	require.NotEqual(t, a, Fingerprint(map[string]string{"canvas": "c2", "audio": "a1"}))
}
