package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/surge/internal/archive"
	"github.com/smallbiznis/surge/internal/batch"
	"github.com/smallbiznis/surge/internal/config"
	"github.com/smallbiznis/surge/internal/events"
	"github.com/smallbiznis/surge/internal/observability"
	obslogger "github.com/smallbiznis/surge/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/surge/internal/observability/metrics"
	obstracing "github.com/smallbiznis/surge/internal/observability/tracing"
	"github.com/smallbiznis/surge/internal/storage"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

type preparer interface {
	Prepare(ctx context.Context, req batch.PrepareRequest) (batch.PrepareResponse, error)
}

type archiver interface {
	BuildArchive(ctx context.Context, surgeID snowflake.ID, householdIDs []snowflake.ID) (archive.Ref, error)
}

func NewEngine(log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(log, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	surgeSvc surgedomain.Service
	batches  preparer
	archives archiver
	hub      *events.Hub
	storage  storage.Storage
	signer   *storage.Signer
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	SurgeSvc     surgedomain.Service
	Orchestrator *batch.Orchestrator
	Aggregator   *archive.Aggregator
	Hub          *events.Hub
	Storage      storage.Storage
	Signer       *storage.Signer
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		log:      p.Log.Named("http.handler"),
		surgeSvc: p.SurgeSvc,
		batches:  p.Orchestrator,
		archives: p.Aggregator,
		hub:      p.Hub,
		storage:  p.Storage,
		signer:   p.Signer,
	}
	svc.RegisterRoutes()
	return svc
}

func (s *Server) RegisterRoutes() {
	s.engine.GET("/downloads/:token", s.Download)

	api := s.engine.Group("/api")
	api.Use(OrgContext())
	api.GET("/events", RequireActor(), s.StreamEvents)

	surges := api.Group("/surges", RequireOrg())
	surges.POST("", s.CreateSurge)
	surges.GET("/:id", s.GetSurge)
	surges.DELETE("/:id", s.DeleteSurge)
	surges.PUT("/:id/report-types", s.SelectReportTypes)
	surges.PUT("/:id/order", s.ReorderSurge)
	surges.POST("/:id/uploads", s.AddUpload)
	surges.DELETE("/:id/uploads/:uploadId", s.RemoveUpload)
	surges.GET("/:id/snapshots", s.ListSnapshots)
	surges.DELETE("/:id/snapshots", s.ClearSnapshots)
	surges.GET("/:id/warnings", s.HouseholdWarnings)
	surges.POST("/:id/prepare", RequireActor(), s.Prepare)
	surges.POST("/:id/archive", s.BuildArchive)
}
