// Package api serves stored history and run reports over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trafficlog/db"
	"trafficlog/logger"
	"trafficlog/models"
)

// Store abstracts the read-only queries the API serves
type Store interface {
	ReadKnownEntities(ctx context.Context) ([]string, error)
	ReadSeries(ctx context.Context, entityID string) ([]models.HistoryEntry, error)
	ListReportDates(ctx context.Context) ([]time.Time, error)
	GetReport(ctx context.Context, runDate time.Time) (*models.RunReport, error)
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HistoryResponse wraps an entity's series
type HistoryResponse struct {
	EntityID string                `json:"entity_id"`
	Entries  []models.HistoryEntry `json:"entries"`
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ListEntities(c *gin.Context) {
	ids, err := h.store.ReadKnownEntities(c.Request.Context())
	if err != nil {
		logger.Error("Failed to list entities", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list entities"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": ids})
}

func (h *Handler) GetHistory(c *gin.Context) {
	entityID := c.Param("owner") + "/" + c.Param("name")
	if !models.ValidEntityID(entityID) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid repository"})
		return
	}

	entries, err := h.store.ReadSeries(c.Request.Context(), entityID)
	if err != nil {
		logger.Error("Failed to read history", zap.String("entity_id", entityID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read history"})
		return
	}
	if len(entries) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "No history for " + entityID})
		return
	}

	if since := c.Query("since"); since != "" {
		from, err := models.ParseDay(since)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid since parameter (use YYYY-MM-DD)"})
			return
		}
		filtered := entries[:0]
		for _, e := range entries {
			if !e.Date.Before(from) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	c.JSON(http.StatusOK, HistoryResponse{EntityID: entityID, Entries: entries})
}

func (h *Handler) ListReports(c *gin.Context) {
	dates, err := h.store.ListReportDates(c.Request.Context())
	if err != nil {
		logger.Error("Failed to list reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list reports"})
		return
	}

	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = models.FormatDay(d)
	}
	c.JSON(http.StatusOK, gin.H{"run_dates": out})
}

func (h *Handler) GetReport(c *gin.Context) {
	runDate, err := models.ParseDay(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid date (use YYYY-MM-DD)"})
		return
	}

	report, err := h.store.GetReport(c.Request.Context(), runDate)
	if err != nil {
		if errors.Is(err, db.ErrReportNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "No report for " + models.FormatDay(runDate)})
			return
		}
		logger.Error("Failed to load report", zap.String("run_date", models.FormatDay(runDate)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load report"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
