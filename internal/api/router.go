package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sbt-vault/engine/internal/api/handlers"
	mw "github.com/sbt-vault/engine/internal/api/middleware"
	"github.com/sbt-vault/engine/internal/realtime"
	"github.com/sbt-vault/engine/internal/services"
)

type Dependencies struct {
	Auth          services.AuthService
	Identity      services.IdentityService
	Mint          services.MintService
	Inventory     services.InventoryService
	Notifications services.NotificationService
	Analytics     services.AnalyticsService
	Gate          handlers.Classifier
	Hub           *realtime.Hub

	// Storage serves public object URLs under /storage.
	Storage http.Handler
	// Health dependencies checked by /readyz.
	Health map[string]handlers.Pinger
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	CORSOrigins    []string
	MaxUploadBytes int64
	// SignupLimiter throttles register and ip-check per client.
	SignupLimiter  *mw.IPLimiter
	RequestTimeout time.Duration
}

func NewRouter(dep Dependencies) http.Handler {
	if dep.SignupLimiter == nil {
		dep.SignupLimiter = mw.NewIPLimiter(0.2, 5)
	}
	if dep.RequestTimeout <= 0 {
		dep.RequestTimeout = 30 * time.Second
	}
	gatherer := dep.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.Metrics)
	r.Use(mw.CORS(dep.CORSOrigins))
	r.Use(httprate.LimitByIP(100, time.Minute))

	hh := handlers.NewHealthHandler(dep.Health)
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if dep.Storage != nil {
		r.Handle("/storage/*", http.StripPrefix("/storage", dep.Storage))
	}

	auth := handlers.NewAuthHandler(dep.Auth, dep.Gate)
	profile := handlers.NewProfileHandler(dep.Identity, dep.MaxUploadBytes)
	mint := handlers.NewMintHandler(dep.Mint, dep.MaxUploadBytes)
	collection := handlers.NewCollectionHandler(dep.Inventory)
	notes := handlers.NewNotificationsHandler(dep.Notifications)
	admin := handlers.NewAdminHandler(handlers.AdminDeps{
		Mint:          dep.Mint,
		Inventory:     dep.Inventory,
		Notifications: dep.Notifications,
		Identity:      dep.Identity,
		Analytics:     dep.Analytics,
		MaxUpload:     dep.MaxUploadBytes,
	})
	live := handlers.NewRealtimeHandler(dep.Hub, dep.Identity)

	r.Route("/api/v1", func(api chi.Router) {
		// Long-lived websocket; kept outside the timeout and compression group.
		api.With(mw.Auth(dep.Auth)).Get("/realtime", live.Subscribe)

		api.Group(func(rest chi.Router) {
			rest.Use(chimid.Timeout(dep.RequestTimeout))
			rest.Use(chimid.Compress(5))

			rest.Route("/auth", func(ar chi.Router) {
				ar.With(dep.SignupLimiter.Handler).Post("/register", auth.Register)
				ar.Post("/login", auth.Login)
			})
			rest.With(dep.SignupLimiter.Handler).Get("/security/ip-check", auth.IPCheck)

			rest.Group(func(p chi.Router) {
				p.Use(mw.Auth(dep.Auth))

				p.Get("/me", profile.Me)
				p.Get("/activity", live.Activity)
				p.Post("/me/refresh", profile.Refresh)
				p.Post("/me/avatar", profile.Avatar)

				p.Route("/mint/requests", func(mr chi.Router) {
					mr.Post("/", mint.Submit)
					mr.Get("/", mint.History)
					mr.Get("/active", mint.Active)
				})

				p.Route("/collection", func(cr chi.Router) {
					cr.Get("/", collection.List)
					cr.Get("/stats", collection.Stats)
					cr.Get("/{id}", collection.Get)
				})

				p.Route("/notifications", func(nr chi.Router) {
					nr.Get("/", notes.List)
					nr.Get("/unread-count", notes.UnreadCount)
					nr.Post("/read-all", notes.MarkAllRead)
					nr.Post("/{id}/read", notes.MarkRead)
				})

				p.Route("/admin", func(ad chi.Router) {
					ad.Get("/requests", admin.Requests)
					ad.Get("/requests/verified-users", admin.VerifiedUsers)
					ad.Post("/requests/{id}/verify", admin.Verify)
					ad.Post("/requests/{id}/reject", admin.Reject)
					ad.Post("/collection/{id}/assign", admin.Assign)
					ad.Post("/announcements", admin.Announce)
					ad.Get("/users", admin.Users)
					ad.Get("/stats", admin.Stats)
				})
			})
		})
	})

	return r
}
