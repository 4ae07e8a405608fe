package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediaflow/jobqueue/internal/api/handler"
	"github.com/mediaflow/jobqueue/internal/worker"
)

// SetupRouter configures and returns the Gin router with all API routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)

	r.GET("/health", jobHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/reclaimable", jobHandler.ListReclaimable)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/reset", jobHandler.ResetJob)
		}

		v1.GET("/worker/status", jobHandler.WorkerStatus)
	}

	return r
}

// SetupWorkerRouter returns the small admin surface the worker-service
// exposes: its own counters plus its Prometheus registry.
func SetupWorkerRouter(logger *slog.Logger, w *worker.Worker, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "jobqueue-worker",
		})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, w.Stats())
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}
