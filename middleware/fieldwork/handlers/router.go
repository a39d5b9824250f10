package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	fwengine "fieldproof-backend/middleware/fieldwork"
	"fieldproof-backend/middleware/fieldwork/middleware"
	fwstore "fieldproof-backend/storage/fieldwork"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Engine  *fwengine.Engine
	Auth    *middleware.Authenticator
	Limiter *fwstore.RateLimiter
	Logger  zerolog.Logger
	// Objects serves simulated signed URLs when the local storage provider is used.
	Objects http.Handler
	Timeout time.Duration
}

// NewRouter builds the chi router for the command API.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	tasks := NewTaskHandler(cfg.Engine)
	claims := NewClaimHandler(cfg.Engine)
	subs := NewSubmissionHandler(cfg.Engine)
	disputes := NewDisputeHandler(cfg.Engine)
	events := NewEventHandler(cfg.Engine.Bus())

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		middleware.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", cfg.Engine.Metrics().Handler())
	if cfg.Objects != nil {
		r.Handle("/objects/*", cfg.Objects)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware, middleware.Logger(cfg.Logger), middleware.RateLimit(cfg.Limiter), chimw.Timeout(cfg.Timeout))

		r.Get("/events", events.Events)
		r.Post("/sweep", tasks.Sweep)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", tasks.List)
			r.Post("/", tasks.Create)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", tasks.Get)
				r.Get("/qr", tasks.QRCode)
				r.Get("/objects", subs.DownloadURL)
				r.Post("/publish", tasks.Publish)
				r.Post("/cancel", tasks.Cancel)
				r.Post("/settlement/retry", tasks.RetrySettlement)

				r.Post("/claims", claims.Claim)
				r.Delete("/claims/{claimID}", claims.Unclaim)

				r.Post("/submissions", subs.Create)
				r.Route("/submissions/{submissionID}", func(r chi.Router) {
					r.Post("/upload-url", subs.UploadURL)
					r.Post("/artefacts", subs.AddArtefact)
					r.Post("/finalise", subs.Finalise)
					r.Post("/decision", subs.Decide)
					r.Post("/disputes", disputes.Open)
				})

				r.Route("/disputes/{disputeID}", func(r chi.Router) {
					r.Post("/evidence-url", disputes.EvidenceUploadURL)
					r.Post("/evidence", disputes.Evidence)
					r.Post("/votes", disputes.Vote)
					r.Post("/resolve", disputes.Resolve)
				})
			})
		})
	})
	return r
}
