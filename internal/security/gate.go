// Package security classifies the network origin and device of a signup.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sbt-vault/engine/pkg/logger"
	"github.com/sbt-vault/engine/pkg/netutil"
	"go.uber.org/zap"
)

// Risk is the verdict of a network-origin classification.
type Risk string

const (
	RiskClean      Risk = "clean"
	RiskAnonymized Risk = "anonymized"
)

const (
	localAddress = "127.0.0.1"
	localCountry = "Localhost"
)

// Assessment is the result of classifying one address.
type Assessment struct {
	Address  string `json:"ip"`
	Country  string `json:"country_name"`
	City     string `json:"city,omitempty"`
	ISP      string `json:"isp,omitempty"`
	Risk     Risk   `json:"risk"`
	Block    int    `json:"block"`
	Local    bool   `json:"is_local,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Blocked reports whether the address must not be allowed to sign up.
func (a Assessment) Blocked() bool { return a.Risk == RiskAnonymized }

// CountryResolver fills in a country name from a local database.
type CountryResolver interface {
	Country(ip string) (string, error)
}

type Options struct {
	ReputationURL string
	ReputationKey string
	EchoURL       string
	// FailClosed treats an unreachable reputation service as anonymized.
	FailClosed bool
	Timeout    time.Duration
	GeoIP      CountryResolver
	Client     *http.Client
}

// Gate classifies addresses against an external reputation service.
type Gate struct {
	opts   Options
	client *http.Client
}

func NewGate(opts Options) *Gate {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Gate{opts: opts, client: client}
}

// ClientAddress returns the caller's address as seen through proxies.
func ClientAddress(r *http.Request) string {
	return netutil.ClientIP(r)
}

type reputationResponse struct {
	Status string `json:"status"`
	Data   struct {
		IP          string `json:"ip"`
		CountryName string `json:"country_name"`
		Block       int    `json:"block"`
		City        string `json:"city"`
		ISP         string `json:"isp"`
	} `json:"data"`
}

// Classify never returns an error: failures degrade to the configured
// fail-closed or fail-open verdict.
func (g *Gate) Classify(ctx context.Context, address string) Assessment {
	address, _ = netutil.NormalizeIP(address)

	if netutil.IsLocal(address) {
		public, err := g.echo(ctx)
		if err != nil {
			logger.L().Warn("public address lookup failed, treating caller as local",
				zap.String("address", address), zap.Error(err))
			a := Assessment{Address: localAddress, Country: localCountry, Risk: RiskClean, Local: true}
			observe(a)
			return a
		}
		address = public
	}

	a, err := g.reputation(ctx, address)
	if err != nil {
		a = Assessment{Address: address, Degraded: true, Risk: RiskClean}
		if g.opts.FailClosed {
			a.Risk = RiskAnonymized
			a.Block = 1
		}
		logger.L().Error("reputation lookup failed",
			zap.String("address", address), zap.Bool("fail_closed", g.opts.FailClosed), zap.Error(err))
	}

	if a.Country == "" && g.opts.GeoIP != nil {
		if country, err := g.opts.GeoIP.Country(address); err == nil {
			a.Country = country
		} else {
			logger.L().Debug("geoip lookup failed", zap.String("address", address), zap.Error(err))
		}
	}

	observe(a)
	logger.L().Info("address classified",
		zap.String("address", a.Address), zap.String("risk", string(a.Risk)), zap.Bool("degraded", a.Degraded))
	return a
}

func (g *Gate) reputation(ctx context.Context, address string) (Assessment, error) {
	if g.opts.ReputationURL == "" {
		return Assessment{}, fmt.Errorf("reputation service not configured")
	}
	endpoint := strings.TrimRight(g.opts.ReputationURL, "/") + "/" + address
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Assessment{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Key", g.opts.ReputationKey)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Assessment{}, fmt.Errorf("call reputation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Assessment{}, fmt.Errorf("reputation service returned %d", resp.StatusCode)
	}

	var body reputationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Assessment{}, fmt.Errorf("decode reputation response: %w", err)
	}
	if body.Status != "success" {
		return Assessment{}, fmt.Errorf("reputation service status %q", body.Status)
	}

	a := Assessment{
		Address: address,
		Country: body.Data.CountryName,
		City:    body.Data.City,
		ISP:     body.Data.ISP,
		Block:   body.Data.Block,
		Risk:    RiskClean,
	}
	if body.Data.Block >= 1 {
		a.Risk = RiskAnonymized
	}
	return a, nil
}

func (g *Gate) echo(ctx context.Context) (string, error) {
	if g.opts.EchoURL == "" {
		return "", fmt.Errorf("echo service not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.EchoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("echo service returned %d", resp.StatusCode)
	}
	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode echo response: %w", err)
	}
	ip, ok := netutil.NormalizeIP(body.IP)
	if !ok {
		return "", fmt.Errorf("echo service returned invalid address %q", body.IP)
	}
	return ip, nil
}

var classifications = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vault",
	Subsystem: "security",
	Name:      "classifications_total",
	Help:      "Network origin classifications by verdict.",
}, []string{"risk", "degraded"})

// Collectors exposes the gate's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{classifications}
}

func observe(a Assessment) {
	degraded := "false"
	if a.Degraded {
		degraded = "true"
	}
	classifications.WithLabelValues(string(a.Risk), degraded).Inc()
}
