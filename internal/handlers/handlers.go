package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"braze-etl/internal/recon"
)

type Handler struct {
	driver *recon.Driver
	logger *logrus.Logger
}

func New(driver *recon.Driver, logger *logrus.Logger) *Handler {
	return &Handler{
		driver: driver,
		logger: logger,
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   "braze-etl",
	})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// RunDailySync drives the steady-state job for yesterday. Failures
// come back as 500 so the scheduler sees them instead of a clean exit.
func (h *Handler) RunDailySync(c *gin.Context) {
	startTime := time.Now()
	h.logger.Info("Starting daily sync")

	if err := h.driver.RunDaily(c.Request.Context()); err != nil {
		h.logger.WithError(err).Error("Daily sync failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"duration_ms": time.Since(startTime).Milliseconds(),
	})
}

// RunReconciliation backfills a historical date supplied as
// ?date=YYYY-MM-DD.
func (h *Handler) RunReconciliation(c *gin.Context) {
	date := c.Query("date")
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format, use YYYY-MM-DD"})
		return
	}

	startTime := time.Now()
	h.logger.WithField("date", date).Info("Starting reconciliation")

	if err := h.driver.Run(c.Request.Context(), day); err != nil {
		h.logger.WithError(err).WithField("date", date).Error("Reconciliation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"date":        date,
		"duration_ms": time.Since(startTime).Milliseconds(),
	})
}
