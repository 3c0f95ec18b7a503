package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/scan_scheduler"
)

// SubjectScanner runs an on-demand scan across a subject's conversations.
type SubjectScanner interface {
	ScanSubject(ctx context.Context, subjectID int64, force bool) (*scan_scheduler.ScanReport, error)
}

// ScanHandler exposes the on-demand scan trigger.
type ScanHandler struct {
	scanner SubjectScanner
	logger  *zap.Logger
}

func NewScanHandler(scanner SubjectScanner, logger *zap.Logger) *ScanHandler {
	return &ScanHandler{scanner: scanner, logger: logger}
}

type scanRequest struct {
	SubjectID int64 `json:"subject_id" binding:"required"`
	Force     bool  `json:"force"`
}

// TriggerScan handles POST /api/v1/scans. The scan runs synchronously; force
// skips the interval gate but never the budget gate.
func (h *ScanHandler) TriggerScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.scanner.ScanSubject(c.Request.Context(), req.SubjectID, req.Force)
	if err != nil {
		h.logger.Error("On-demand scan failed", zap.Int64("subject_id", req.SubjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
		return
	}
	if report.Skipped {
		c.JSON(http.StatusNotFound, gin.H{"error": report.Reason})
		return
	}

	c.JSON(http.StatusOK, report)
}
