package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"herfrequency/cmd/middleware"
	"herfrequency/internal/ratelimit"
	"herfrequency/internal/service"
)

type Routers struct {
	Service         service.Service
	Limiter         *ratelimit.Limiter
	TestimonialRule ratelimit.Rule
	AllowedOrigins  []string
	GinMode         string
	Log             *zerolog.Logger
}

func NewRouters(r *Routers) *ginext.Engine {
	mode := r.GinMode
	if mode == "" {
		mode = "release"
	}
	app := ginext.New(mode)

	app.Use(middleware.LoggingMiddleware(r.Log))
	app.Use(middleware.OriginGuard(r.AllowedOrigins, r.Log))
	app.Use(cors.New(corsConfig(r.AllowedOrigins)))

	app.GET("/healthz", r.Service.Health)
	metrics := promhttp.Handler()
	app.GET("/metrics", func(c *ginext.Context) {
		metrics.ServeHTTP(c.Writer, c.Request)
	})

	apiGroup := app.Group("/v1")

	apiGroup.POST("/registrations/actions", r.Service.RegistrationAction)
	apiGroup.GET("/events", r.Service.ListEvents)
	apiGroup.GET("/events/:id/spots", r.Service.EventSpots)
	apiGroup.POST("/testimonials", r.Limiter.Middleware(r.TestimonialRule), r.Service.SubmitTestimonial)
	apiGroup.GET("/testimonials", r.Service.ListTestimonials)
	apiGroup.POST("/auth/sign-in", r.Service.SignIn)

	admin := apiGroup.Group("/admin")
	admin.POST("/actions", r.Service.AdminAction)
	admin.GET("/registrations.csv", r.Service.ExportRegistrationsCSV)

	return app
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Retry-After", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	return cfg
}
