package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/aegisbulk/internal/history"
	"github.com/thrillee/aegisbulk/internal/logging"
	"github.com/thrillee/aegisbulk/internal/managerapi/handlers/dto"
)

type ReportHandler struct {
	store history.Store
}

func NewReportHandler(store history.Store) *ReportHandler {
	return &ReportHandler{store: store}
}

// ListRuns handles GET /reports/runs
func (h *ReportHandler) ListRuns(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "ListRuns")
	limit, offset := parsePagination(c)

	runs, total, err := h.store.List(logCtx, limit, offset)
	if err != nil {
		slog.ErrorContext(logCtx, "Failed to list dispatch runs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve dispatch runs"})
		return
	}
	c.JSON(http.StatusOK, dto.PaginatedListResponse{
		Data:       runs,
		Pagination: dto.PaginationResponse{Total: total, Limit: limit, Offset: offset},
	})
}

// GetRun handles GET /reports/runs/:runID
func (h *ReportHandler) GetRun(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "GetRun")
	logCtx = logging.ContextWithRunID(logCtx, c.Param("runID"))

	run, err := h.store.Get(logCtx, c.Param("runID"))
	if err != nil {
		respondError(c, logCtx, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetStats handles GET /reports/stats?since=YYYY-MM-DD
func (h *ReportHandler) GetStats(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "GetStats")

	since := time.Now().UTC().AddDate(0, 0, -30)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since format. Use YYYY-MM-DD."})
			return
		}
		since = t
	}

	stats, err := h.store.Stats(logCtx, since)
	if err != nil {
		slog.ErrorContext(logCtx, "Failed to aggregate dispatch runs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve run statistics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since.Format("2006-01-02"), "stats": stats})
}
