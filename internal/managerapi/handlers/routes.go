package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the handlers' collaborators. Reports is nil when run history is disabled.
type Deps struct {
	Sessions *SessionHandler
	Catalog  *CatalogHandler
	Reports  *ReportHandler
	Health   map[string]Checker
	Gatherer prometheus.Gatherer
	Auth     gin.HandlerFunc
}

// SetupRoutes configures the Gin engine with all API routes.
func SetupRoutes(router gin.IRouter, d Deps) {
	router.GET("/health", Health(d.Health))
	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	if d.Auth != nil {
		api.Use(d.Auth)
	}

	// --- Compose Session Routes ---
	sh := d.Sessions
	sessions := api.Group("/sessions")
	{
		sessions.POST("", sh.CreateSession)
		sessions.GET("/:id", sh.GetSession)
		sessions.DELETE("/:id", sh.DeleteSession)

		sessions.POST("/:id/contacts/csv", sh.UploadCSV)
		sessions.POST("/:id/contacts/xlsx", sh.UploadXLSX)
		sessions.POST("/:id/contacts/json", sh.UploadJSON)
		sessions.POST("/:id/contacts/text", sh.AddText)
		sessions.POST("/:id/contacts/group", sh.AddGroup)

		sessions.DELETE("/:id/batches/:batchID", sh.RemoveBatch)
		sessions.PUT("/:id/selection", sh.SetSelection)
		sessions.PUT("/:id/mode", sh.SetMode)

		sessions.PUT("/:id/draft", sh.SetDraft)
		sessions.POST("/:id/segments", sh.CommitSegment)
		sessions.DELETE("/:id/segments/:index", sh.RemoveSegment)
		sessions.POST("/:id/template", sh.ApplyTemplate)

		sessions.GET("/:id/quote", sh.GetQuote)
		sessions.POST("/:id/dispatch", sh.StartDispatch)
		sessions.GET("/:id/dispatch", sh.DispatchStatus)
		sessions.POST("/:id/dispatch/stop", sh.StopDispatch)
		sessions.POST("/:id/dispatch/retry", sh.RetryDispatch)
		sessions.GET("/:id/dispatch/stream", sh.StreamDispatch)
	}

	// --- Platform Catalog Routes ---
	api.GET("/templates", d.Catalog.ListTemplates)
	api.GET("/contact-groups", d.Catalog.ListContactGroups)
	api.GET("/wallet", d.Catalog.GetWallet)

	// --- Reporting Routes ---
	if d.Reports != nil {
		reports := api.Group("/reports")
		{
			reports.GET("/runs", d.Reports.ListRuns)
			reports.GET("/runs/:runID", d.Reports.GetRun)
			reports.GET("/stats", d.Reports.GetStats)
		}
	}
}
