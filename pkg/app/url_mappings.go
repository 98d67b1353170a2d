package app

import (
	"github.com/icnocop/pipelines-testlogger/internal/controllers"
	"github.com/icnocop/pipelines-testlogger/internal/middleware"
	"github.com/icnocop/pipelines-testlogger/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SupportedAPIVersions are the api-version majors the routes accept.
var SupportedAPIVersions = []string{"3.0", "5.0"}

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", controllers.NewHealthController(app.Store).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := app.Engine.Group("/_admin", middleware.AuthMiddleware(app.Validator))
	{
		admin.GET("/requests", controllers.NewListRequestsController(app.Store.RequestLog()).Handle)
		admin.DELETE("/requests", controllers.NewResetRequestsController(app.Store.RequestLog()).Handle)
		admin.GET("/runs", controllers.NewListRunsController(app.Runs).Handle)
	}

	bucket := ratelimit.Bucket{
		RequestsPerMinute: app.Config.RateLimit.RequestsPerMinute,
		BurstSize:         app.Config.RateLimit.BurstSize,
	}
	runs := app.Engine.Group("/:project/_apis/test/runs",
		middleware.Capture(app.Store.RequestLog()),
		middleware.AuthMiddleware(app.Validator),
		middleware.RequireAPIVersion(SupportedAPIVersions...),
	)
	{
		runs.POST("", controllers.NewCreateRunController(app.Runs).Handle)
		runs.GET("/:runId", controllers.NewGetRunController(app.Runs).Handle)
		runs.PATCH("/:runId", controllers.NewUpdateRunController(app.Runs).Handle)

		results := runs.Group("/:runId/results", middleware.RateLimit(app.RateLimiter, "results", bucket))
		results.POST("", controllers.NewAddResultsController(app.Runs).Handle)
		results.PATCH("", controllers.NewUpdateResultsController(app.Runs).Handle)
		results.GET("", controllers.NewListResultsController(app.Runs).Handle)
	}
}
