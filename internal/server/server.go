// Package server exposes the billing pipeline over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
	"github.com/accordbilling/accord/internal/config"
	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	usagedomain "github.com/accordbilling/accord/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	engine       *gin.Engine
	log          *zap.Logger
	db           *gorm.DB
	cfg          config.Config
	genID        *snowflake.Node
	attachSvc    attachdomain.Service
	usageSvc     usagedomain.Service
	customerRepo customerdomain.Repository
}

type Params struct {
	fx.In

	Engine       *gin.Engine
	Log          *zap.Logger
	DB           *gorm.DB
	Cfg          config.Config
	GenID        *snowflake.Node
	AttachSvc    attachdomain.Service
	UsageSvc     usagedomain.Service
	CustomerRepo customerdomain.Repository
}

func NewServer(p Params) *Server {
	return &Server{
		engine:       p.Engine,
		log:          p.Log.Named("server"),
		db:           p.DB,
		cfg:          p.Cfg,
		genID:        p.GenID,
		attachSvc:    p.AttachSvc,
		usageSvc:     p.UsageSvc,
		customerRepo: p.CustomerRepo,
	}
}

func (s *Server) RegisterAPIRoutes() {
	s.engine.GET("/healthz", s.Health)

	v1 := s.engine.Group("/v1")
	v1.Use(s.OrgRequired())
	{
		v1.POST("/customers", s.CreateCustomer)
		v1.GET("/customers/:customer_id", s.GetCustomer)
		v1.POST("/customers/:customer_id/attach", s.Attach)
		v1.POST("/customers/:customer_id/usage", s.TrackUsage)
		v1.POST("/attach/preview", s.PreviewAttach)
	}
}

// Health
// GET /healthz
func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP starts the HTTP listener on the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.log.Info("http server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
