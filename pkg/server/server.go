package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maximthomas/goradius/pkg/config"
	"github.com/maximthomas/goradius/pkg/controller"
	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/middleware"
	"github.com/maximthomas/goradius/pkg/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cors "github.com/rs/cors/wrapper/gin"
)

// SetupRouter builds the admin API. sessions may be nil when no accounting
// module is configured.
func SetupRouter(conf config.Admin, p Processor, sessions session.Repository) *gin.Engine {
	router := gin.Default()
	c := cors.New(cors.Options{
		AllowedOrigins:   conf.Cors.AllowedOrigins,
		AllowCredentials: true,
		Debug:            gin.IsDebugging(),
	})
	router.Use(c)

	var rc = controller.NewRequestController(p)
	var sc = controller.NewSessionController(sessions)

	v1 := router.Group("/goradius/v1")
	{
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		v1.GET("/metrics", gin.WrapH(promhttp.Handler()))

		protected := v1.Group("", middleware.NewAuthenticatedMiddleware(conf.JWTSecret))
		{
			protected.POST("/requests", rc.Process)
			protected.GET("/sessions/:user", sc.ListByUser)
		}
	}
	return router
}

// RunAdmin serves the admin API until ctx is done.
func RunAdmin(ctx context.Context, conf config.Admin, p Processor, sessions session.Repository) error {
	srv := &http.Server{
		Addr:              conf.Address,
		Handler:           SetupRouter(conf, p, sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("module", "admin").Infof("listening on %s", conf.Address)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
