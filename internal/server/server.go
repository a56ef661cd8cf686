package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/shinyyama/komemarche-backend/internal/clock"
	"github.com/shinyyama/komemarche-backend/internal/config"
	"github.com/shinyyama/komemarche-backend/internal/handler"
	appmw "github.com/shinyyama/komemarche-backend/internal/middleware"
	"github.com/shinyyama/komemarche-backend/internal/notify"
	"github.com/shinyyama/komemarche-backend/internal/payment"
	"github.com/shinyyama/komemarche-backend/internal/repository"
	"github.com/shinyyama/komemarche-backend/internal/schedule"
	"github.com/shinyyama/komemarche-backend/internal/service"
	"github.com/shinyyama/komemarche-backend/internal/token"
	"gorm.io/gorm"
)

// Deps are the process-level collaborators the API is built from. Nil Payments disables the
// checkout flow; nil Redis disables rate limiting.
type Deps struct {
	Config    *config.Config
	DB        *gorm.DB
	Clock     clock.Clock
	Scheduler *schedule.Scheduler
	Verifier  appmw.TokenVerifier
	Payments  payment.Gateway
	Publisher notify.Publisher
	Redis     *redis.Client
	SHA       string
	BuildTime string
}

type Server struct {
	e           *echo.Echo
	Reservation service.ReservationService
}

func New(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(appmw.RequestContext)
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) (bool, error) {
			low := strings.ToLower(origin)
			if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
				strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
				return true, nil
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false, nil
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false, nil
			}
			host := u.Hostname()
			if strings.HasSuffix(host, "vercel.app") {
				return true, nil
			}
			if base, err := url.Parse(d.Config.Payment.AppBaseURL); err == nil && base.Hostname() == host {
				return true, nil
			}
			return false, nil
		},
	}))

	cfg := d.Config
	loc := d.Scheduler.Location()

	farmRepo := repository.NewFarmRepository(d.DB)
	reservationRepo := repository.NewReservationRepository(d.DB)
	notificationRepo := repository.NewNotificationRepository(d.DB)

	notificationSvc := service.NewNotificationService(notificationRepo)
	farmSvc := service.NewFarmService(farmRepo, reservationRepo, d.Scheduler, d.Clock)
	reservationSvc := service.NewReservationService(service.ReservationDeps{
		Reservations:  reservationRepo,
		Farms:         farmRepo,
		Scheduler:     d.Scheduler,
		Clock:         d.Clock,
		Tokens:        token.NewManager(cfg.Reservation.CancelTokenSecret, d.Clock.Now),
		Payments:      d.Payments,
		Publisher:     d.Publisher,
		Notifications: notificationSvc,
		Settings: service.ReservationSettings{
			MaxOrderKg:        cfg.Reservation.MaxOrderKg,
			ServiceFeeYen:     cfg.Reservation.ServiceFeeYen,
			CancelUseGrace:    cfg.Reservation.CancelUseGrace,
			PendingTTL:        cfg.Reservation.PendingTTL,
			PaymentSessionTTL: cfg.Payment.SessionTTL,
		},
	})
	statsSvc := service.NewStatsService(reservationRepo, loc)

	farmHandler := handler.NewFarmHandler(farmSvc, d.Scheduler)
	reservationHandler := handler.NewReservationHandler(reservationSvc, notificationSvc, loc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	webhookHandler := handler.NewWebhookHandler(d.Payments, reservationSvc)
	adminHandler := handler.NewAdminHandler(statsSvc, loc, d.Clock.Now)

	authMw := appmw.NewAuthMiddleware(d.Verifier, cfg.IsAdmin)
	limit := appmw.NewRateLimit(cfg.RateLimit, d.Redis)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    d.SHA,
			"build_time": d.BuildTime,
		})
	})

	api := e.Group("/api")
	api.GET("/slots", farmHandler.Slots)
	api.GET("/farms", farmHandler.List)
	api.GET("/farms/:id", farmHandler.Get)
	api.GET("/farms/:id/next-pickup", farmHandler.NextPickup)
	api.POST("/pricing/derive", farmHandler.DerivePricing)
	api.POST("/reservations/cancel", reservationHandler.CancelWithToken, limit)
	api.POST("/webhooks/stripe", webhookHandler.Stripe)

	if d.Verifier != nil {
		auth := authMw.RequireAuth
		api.POST("/farms/:id/reservations", reservationHandler.Create, auth, limit)
		api.GET("/me/reservations", reservationHandler.ListMine, auth)
		api.GET("/reservations/:id", reservationHandler.Get, auth)
		api.POST("/reservations/:id/cancel", reservationHandler.CancelMine, auth, limit)

		api.POST("/me/farm", farmHandler.CreateMine, auth)
		api.GET("/me/farm", farmHandler.GetMine, auth)
		api.PUT("/me/farm/pricing", farmHandler.UpdatePricing, auth)
		api.PUT("/me/farm/pickup", farmHandler.UpdatePickup, auth)
		api.GET("/me/farm/pickup/editable", farmHandler.PickupEditable, auth)
		api.PUT("/me/farm/pr", farmHandler.UpdatePR, auth)
		api.GET("/me/farm/reservations", reservationHandler.ListForFarm, auth)
		api.POST("/me/farm/reservations/:id/cancel", reservationHandler.CancelByFarm, auth)

		api.GET("/me/notifications", notificationHandler.List, auth)
		api.POST("/me/notifications/read", notificationHandler.MarkAllRead, auth)

		admin := api.Group("/admin", auth, authMw.RequireAdmin)
		admin.GET("/stats", adminHandler.Stats)
		admin.GET("/stats.csv", adminHandler.StatsCSV)
		admin.POST("/reservations/:id/cancel", reservationHandler.CancelByAdmin)
	} else {
		e.Logger.Warn("auth verifier not configured; authenticated routes are disabled")
	}

	return &Server{e: e, Reservation: reservationSvc}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}
