package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/budget"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/config"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/repository"
)

// UsageHandler reports the per-subject monthly spend meter.
type UsageHandler struct {
	usage  repository.UsageRepository
	limits config.BudgetConfig
	logger *zap.Logger
}

func NewUsageHandler(usage repository.UsageRepository, limits config.BudgetConfig, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{usage: usage, limits: limits, logger: logger}
}

// Get handles GET /api/v1/subjects/:id/usage. The month query parameter
// ("2006-01") defaults to the current month; a subject with no chargeable
// calls yet gets a zeroed meter, not a 404.
func (h *UsageHandler) Get(c *gin.Context) {
	subjectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject id"})
		return
	}

	month := c.Query("month")
	if month == "" {
		month = budget.MonthKey(time.Now())
	} else if _, err := time.Parse("2006-01", month); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month, expected YYYY-MM"})
		return
	}

	meter, err := h.usage.GetUsage(subjectID, month)
	if err != nil {
		h.logger.Error("Failed to load usage meter",
			zap.Int64("subject_id", subjectID), zap.String("month", month), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load usage"})
		return
	}
	if meter == nil {
		meter = &models.UsageMeter{SubjectID: subjectID, Month: month}
	}

	c.JSON(http.StatusOK, gin.H{
		"usage":               meter,
		"soft_limit":          h.limits.SoftLimit,
		"hard_limit":          h.limits.HardLimit,
		"max_fallback_calls":  h.limits.MaxFallbackCalls,
		"soft_limit_exceeded": meter.EstimatedCost >= h.limits.SoftLimit,
		"hard_limit_exceeded": meter.EstimatedCost >= h.limits.HardLimit,
	})
}
