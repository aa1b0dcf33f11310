package api

import (
	"github.com/gin-gonic/gin"

	"trafficlog/metrics"
)

// SetupRouter configures the API routes. m may be nil to serve without
// instrumentation.
func SetupRouter(h *Handler, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if m != nil {
		r.Use(m.Middleware())
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	r.GET("/healthz", h.Health)

	v1 := r.Group("/api/v1")
	{
		entities := v1.Group("/entities")
		{
			entities.GET("", h.ListEntities)
			entities.GET("/:owner/:name/history", h.GetHistory)
		}

		reports := v1.Group("/reports")
		{
			reports.GET("", h.ListReports)
			reports.GET("/:date", h.GetReport)
		}
	}

	return r
}
