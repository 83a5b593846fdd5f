package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fanlore/fanlore/internal/audit/domain"
	billingdomain "github.com/fanlore/fanlore/internal/billing/domain"
	"github.com/fanlore/fanlore/internal/config"
	obsmiddleware "github.com/fanlore/fanlore/internal/observability/logger"
	paymentdomain "github.com/fanlore/fanlore/internal/payment/domain"
	retrydomain "github.com/fanlore/fanlore/internal/retry/domain"
	transcodedomain "github.com/fanlore/fanlore/internal/transcode/domain"
	walletdomain "github.com/fanlore/fanlore/internal/wallet/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	paymentSvc   paymentdomain.Service
	transcodeSvc transcodedomain.Service
	billingSvc   billingdomain.Service
	walletSvc    walletdomain.Service
	auditSvc     auditdomain.Service
	retryQueue   retrydomain.Queue
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	PaymentSvc   paymentdomain.Service
	TranscodeSvc transcodedomain.Service
	BillingSvc   billingdomain.Service
	WalletSvc    walletdomain.Service
	AuditSvc     auditdomain.Service
	RetryQueue   retrydomain.Queue
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		paymentSvc:   p.PaymentSvc,
		transcodeSvc: p.TranscodeSvc,
		billingSvc:   p.BillingSvc,
		walletSvc:    p.WalletSvc,
		auditSvc:     p.AuditSvc,
		retryQueue:   p.RetryQueue,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")
	hooks.POST("/payments", s.HandlePaymentWebhook)
	hooks.POST("/transcoding", s.HandleTranscodeWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.POST("/invoices", s.CreateInvoice)
	api.GET("/wallets/:userId/balance", s.GetWalletBalance)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.GET("/payments/:txnId", s.GetPayment)
	admin.GET("/payments/:txnId/audit", s.GetPaymentAudit)
	admin.GET("/retry/dead", s.ListDeadLetters)
	admin.POST("/retry/:id/requeue", s.RequeueDeadLetter)
}
