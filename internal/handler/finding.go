package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/crypto"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/repository"
)

// FindingHandler serves the guardian-facing review endpoints: findings and
// the decision history behind them.
type FindingHandler struct {
	findings  repository.FindingRepository
	decisions repository.DecisionRepository
	cipher    *crypto.Cipher
	logger    *zap.Logger
}

func NewFindingHandler(findings repository.FindingRepository, decisions repository.DecisionRepository, cipher *crypto.Cipher, logger *zap.Logger) *FindingHandler {
	return &FindingHandler{findings: findings, decisions: decisions, cipher: cipher, logger: logger}
}

// findingView is the API shape of a finding: the explanation is returned
// decrypted, everything else mirrors the stored row.
type findingView struct {
	ID             int64    `json:"id"`
	SubjectID      int64    `json:"subject_id"`
	DecisionID     int64    `json:"decision_id"`
	ThreatDetected bool     `json:"threat_detected"`
	RiskLevel      string   `json:"risk_level"`
	ThreatTypes    []string `json:"threat_types"`
	Explanation    string   `json:"explanation"`
	Handled        bool     `json:"handled"`
	CreatedAt      string   `json:"created_at"`
}

func (h *FindingHandler) view(f *models.Finding) findingView {
	explanation, err := h.cipher.Decrypt(f.ExplanationEncrypted)
	if err != nil {
		h.logger.Error("Failed to decrypt finding explanation", zap.Int64("finding_id", f.ID), zap.Error(err))
		explanation = ""
	}
	return findingView{
		ID:             f.ID,
		SubjectID:      f.SubjectID,
		DecisionID:     f.DecisionID,
		ThreatDetected: f.ThreatDetected,
		RiskLevel:      f.RiskLevel,
		ThreatTypes:    f.ThreatTypes,
		Explanation:    explanation,
		Handled:        f.Handled,
		CreatedAt:      f.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// List handles GET /api/v1/findings. Without a subject_id query parameter it
// returns the unhandled backlog across all subjects.
func (h *FindingHandler) List(c *gin.Context) {
	var (
		rows []*models.Finding
		err  error
	)
	if raw := c.Query("subject_id"); raw != "" {
		subjectID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject_id"})
			return
		}
		rows, err = h.findings.GetFindingsBySubject(subjectID)
	} else {
		rows, err = h.findings.GetUnhandledFindings()
	}
	if err != nil {
		h.logger.Error("Failed to list findings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list findings"})
		return
	}

	views := make([]findingView, 0, len(rows))
	for _, f := range rows {
		views = append(views, h.view(f))
	}
	c.JSON(http.StatusOK, gin.H{"findings": views})
}

// Get handles GET /api/v1/findings/:id. The response includes the Tier-2
// decision the finding was emitted from, so the guardian app can show the
// evidence window without a second round trip.
func (h *FindingHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid finding id"})
		return
	}

	finding, err := h.findings.GetFindingByID(id)
	if err != nil {
		h.logger.Error("Failed to load finding", zap.Int64("finding_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load finding"})
		return
	}
	if finding == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "finding not found"})
		return
	}

	resp := gin.H{"finding": h.view(finding)}
	decision, err := h.decisions.GetDecisionByID(finding.DecisionID)
	if err != nil {
		h.logger.Error("Failed to load decision for finding",
			zap.Int64("finding_id", id), zap.Int64("decision_id", finding.DecisionID), zap.Error(err))
	} else if decision != nil {
		resp["decision"] = decision
	}
	c.JSON(http.StatusOK, resp)
}

// ListDecisions handles GET /api/v1/subjects/:id/decisions, newest first.
func (h *FindingHandler) ListDecisions(c *gin.Context) {
	subjectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject id"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, perr := strconv.Atoi(raw)
		if perr != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	rows, err := h.decisions.GetDecisionsBySubject(subjectID, limit)
	if err != nil {
		h.logger.Error("Failed to list decisions", zap.Int64("subject_id", subjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list decisions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": rows})
}

// MarkHandled handles POST /api/v1/findings/:id/handled.
func (h *FindingHandler) MarkHandled(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid finding id"})
		return
	}

	if err := h.findings.MarkHandled(id); err != nil {
		if errors.Is(err, repository.ErrFindingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "finding not found"})
			return
		}
		h.logger.Error("Failed to mark finding handled", zap.Int64("finding_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update finding"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "handled": true})
}
