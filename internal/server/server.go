package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/medistore/payments/internal/config"
	"github.com/medistore/payments/internal/observability"
	obslogger "github.com/medistore/payments/internal/observability/logger"
	obstracing "github.com/medistore/payments/internal/observability/tracing"
	paymentdomain "github.com/medistore/payments/internal/payment/domain"
	"github.com/medistore/payments/internal/payment/webhook"
	"github.com/medistore/payments/pkg/db"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, cfg config.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware(!cfg.IsProduction()))

	return r
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	paymentSvc paymentdomain.Service
	reconciler *webhook.Reconciler
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	PaymentSvc paymentdomain.Service
	Reconciler *webhook.Reconciler
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("http.server"),
		paymentSvc: p.PaymentSvc,
		reconciler: p.Reconciler,
	}

	if !p.Cfg.Payments.Ready() {
		svc.log.Warn("gateway credentials missing, payment endpoints will fail")
	}
	if !p.Cfg.Payments.WebhookReady() {
		svc.log.Warn("webhook secret missing, webhook deliveries will be refused")
	}

	svc.registerOpsRoutes()
	svc.registerPaymentRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerOpsRoutes() {
	s.engine.GET("/health", s.Health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) registerPaymentRoutes() {
	payments := s.engine.Group("/payments")

	payments.POST("/create-order", s.CreateOrder)
	payments.POST("/verify", s.VerifyPayment)
	payments.GET("/payment/:paymentId", s.GetPaymentByID)
	payments.GET("/order/:orderId", s.GetPaymentByOrderID)
	payments.GET("/transactions", s.ListCustomerTransactions)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/razorpay", s.HandleRazorpayWebhook)
}

// Health reports process liveness and database reachability.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := db.Silent(s.db).WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		dbStatus = "unavailable"
	}

	status := http.StatusOK
	if dbStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":   http.StatusText(status),
		"database": dbStatus,
		"gateway":  s.cfg.Payments.Ready(),
		"webhook":  s.cfg.Payments.WebhookReady(),
	})
}

func run(lc fx.Lifecycle, cfg config.Config, srv *Server, log *zap.Logger, shutdowner fx.Shutdowner) {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	})
}
