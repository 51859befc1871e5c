package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bassline-events/mailroom-backend/api/controllers"
	"github.com/bassline-events/mailroom-backend/api/middleware"
	"github.com/bassline-events/mailroom-backend/internal/captcha"
	"github.com/bassline-events/mailroom-backend/internal/mailqueue"
	"github.com/bassline-events/mailroom-backend/internal/verification"
	"github.com/bassline-events/mailroom-backend/pkg/config"
	"github.com/bassline-events/mailroom-backend/pkg/logger"
)

// RouterParams carry everything the HTTP surface depends on.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           controllers.Pinger
	Redis        controllers.Pinger
	Captcha      captcha.Verifier
	Verification verification.Service
	Queue        mailqueue.Service
	Stats        mailqueue.StatsService
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, params.DB, params.Redis, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/verification", func(r chi.Router) {
			r.Post("/request", controllers.RequestVerification(params.Captcha, params.Verification, logg))
			r.Post("/confirm", controllers.ConfirmVerification(params.Verification, cfg.Verification, logg))
		})

		r.Post("/mail", controllers.EnqueueMail(params.Queue, cfg, logg))

		r.Route("/admin/mail", func(r chi.Router) {
			r.Get("/", controllers.AdminListMail(params.Queue, logg))
			r.Delete("/", controllers.AdminDeleteMailByStatus(params.Queue, logg))
			r.Get("/stats", controllers.AdminMailStats(params.Stats, logg))
			r.Post("/requeue-failed", controllers.AdminRequeueFailed(params.Queue, logg))
			r.Post("/{jobId}/requeue", controllers.AdminRequeueMail(params.Queue, logg))
			r.Delete("/{jobId}", controllers.AdminDeleteMail(params.Queue, logg))
		})
	})

	return r
}
