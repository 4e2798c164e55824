package routes

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/secureapp/apiv1/auth"
	"github.com/secureapp/apiv1/middlewares"
	"github.com/secureapp/apiv1/twofactor"
)

// Deps is everything the HTTP surface needs. Metrics and StaticDir are
// optional; Now defaults to time.Now.
type Deps struct {
	Auth           *auth.Authenticator
	Provisioner    *twofactor.Provisioner
	Verifier       *twofactor.Verifier
	Logger         *zap.Logger
	RateLimitRPS   float64
	TrustedProxies int
	Metrics        http.Handler
	StaticDir      string
	Now            func() time.Time
}

// Handler serves the JSON endpoints.
type Handler struct {
	auth        *auth.Authenticator
	provisioner *twofactor.Provisioner
	verifier    *twofactor.Verifier
	logger      *zap.Logger
	validate    *validator.Validate
	now         func() time.Time
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		auth:        d.Auth,
		provisioner: d.Provisioner,
		verifier:    d.Verifier,
		logger:      logger,
		validate:    validator.New(),
		now:         now,
	}
}

// CreateRoutes mounts every route on r.
func CreateRoutes(r *mux.Router, d Deps) {
	h := NewHandler(d)

	r.StrictSlash(true)
	r.Use(middlewares.Recoverer(h.logger), middlewares.RequestLogger(h.logger))

	api := r.PathPrefix("/api").Subrouter()
	if d.RateLimitRPS > 0 {
		api.Use(middlewares.RateLimit(d.RateLimitRPS, d.TrustedProxies, h.logger))
	}
	TwoFactorRouter(api, h)
	AuthRouter(api.PathPrefix("/auth").Subrouter(), h)

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods(http.MethodGet)
	}
	if d.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(d.StaticDir))).Methods(http.MethodGet)
	}
}
