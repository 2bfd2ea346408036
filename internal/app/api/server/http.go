package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/subtrack/docs"
	"github.com/fatflowers/subtrack/internal/app/api/handlers"
	mw "github.com/fatflowers/subtrack/internal/app/api/middleware"
	"github.com/fatflowers/subtrack/internal/app/guard"
	"github.com/fatflowers/subtrack/internal/app/service/category"
	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	nh "github.com/fatflowers/subtrack/internal/app/service/notification_handler"
	"github.com/fatflowers/subtrack/internal/app/service/statistics"
	subsvc "github.com/fatflowers/subtrack/internal/app/service/subscription"
	"github.com/fatflowers/subtrack/internal/app/service/transaction"
	"github.com/fatflowers/subtrack/internal/app/service/user"
	cfgpkg "github.com/fatflowers/subtrack/pkg/config"
	metrics "github.com/fatflowers/subtrack/pkg/metrics"
)

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	if cfg.Env == cfgpkg.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Request logger & access log are attached per group in registerRoutes.
	r.Use(mw.TraceMiddleware(), mw.CORS(cfg.CORS))
	return r
}

type routeDeps struct {
	fx.In

	Cfg           *cfgpkg.Config
	Log           *zap.SugaredLogger
	DB            *gorm.DB
	Users         *user.Service
	Categories    *category.Service
	Subscriptions *subsvc.Service
	Entitlements  *entitlement.Service
	Transactions  transaction.TransactionManager
	Stats         *statistics.Service
	Webhooks      *nh.NotificationHandler
}

func registerRoutes(r *gin.Engine, d routeDeps) error {
	log, cfg := d.Log, d.Cfg

	metrics.RegisterBusinessMetrics(prometheus.DefaultRegisterer, log)
	if cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}

	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub, sqlDB)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Everything under /api/v1 needs a signed-in user.
	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log), mw.RequireAuth(cfg, d.Users, log))
	limit := mw.NewRateLimiter(cfg.RateLimit).Middleware()

	handlers.RegisterUserRoutes(apiV1, d.Users, d.Categories, log)
	handlers.RegisterSubscriptionRoutes(apiV1, d.Subscriptions, limit, log)
	handlers.RegisterEntitlementRoutes(apiV1, d.Entitlements, limit, log)

	elevated := apiV1.Group("/admin", mw.RequireCapability(guard.CapabilityElevated, cfg, log))
	admin := apiV1.Group("/admin", mw.RequireCapability(guard.CapabilityAdmin, cfg, log))
	handlers.RegisterAdminRoutes(elevated, admin, &handlers.AdminDeps{
		Users:        d.Users,
		Stats:        d.Stats,
		Transactions: d.Transactions,
		Categories:   d.Categories,
		Sync:         d.Entitlements,
		Log:          log,
	})

	// Provider webhooks authenticate by signature, not by bearer token.
	apiV2Payment := r.Group("/api/v2/payment")
	apiV2Payment.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterPaymentWebhookRoutes(apiV2Payment, d.Webhooks, log)
	return nil
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
