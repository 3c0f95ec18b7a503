package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/budget"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/crypto"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/media_client"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/prefilter"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/repository"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/scan_scheduler"
)

// Captioner derives captions/transcripts for non-text messages. Failures are
// swallowed: a message without a caption still flows through the pipeline.
type Captioner interface {
	Caption(ctx context.Context, mediaRef, modality string) (*media_client.CaptionResponse, error)
}

// IngestHandler receives message batches from the platform collectors,
// persists them encrypted, and routes them through the pre-filter.
type IngestHandler struct {
	subjects    repository.SubjectRepository
	chats       repository.ChatRepository
	messages    repository.MessageRepository
	checkpoints repository.CheckpointRepository
	cipher      *crypto.Cipher
	captioner   Captioner
	ledger      *budget.Ledger
	tier1       scan_scheduler.Tier1Scanner
	tier2       scan_scheduler.Tier2Evaluator
	logger      *zap.Logger
}

func NewIngestHandler(
	subjects repository.SubjectRepository,
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	checkpoints repository.CheckpointRepository,
	cipher *crypto.Cipher,
	captioner Captioner,
	ledger *budget.Ledger,
	tier1 scan_scheduler.Tier1Scanner,
	tier2 scan_scheduler.Tier2Evaluator,
	logger *zap.Logger,
) *IngestHandler {
	return &IngestHandler{
		subjects:    subjects,
		chats:       chats,
		messages:    messages,
		checkpoints: checkpoints,
		cipher:      cipher,
		captioner:   captioner,
		ledger:      ledger,
		tier1:       tier1,
		tier2:       tier2,
		logger:      logger,
	}
}

type ingestMessage struct {
	ExternalID string    `json:"external_id" binding:"required"`
	SenderRole string    `json:"sender_role" binding:"required"`
	Modality   string    `json:"modality" binding:"required"`
	Content    string    `json:"content"`
	MediaRef   *string   `json:"media_ref"`
	Timestamp  time.Time `json:"timestamp" binding:"required"`
}

type ingestRequest struct {
	SubjectID      int64           `json:"subject_id" binding:"required"`
	ChatExternalID string          `json:"chat_external_id" binding:"required"`
	ChatName       string          `json:"chat_name"`
	IsGroup        bool            `json:"is_group"`
	Messages       []ingestMessage `json:"messages" binding:"required,min=1,dive"`
}

// Ingest handles POST /api/v1/messages. Batch-priority messages are parked on
// the conversation checkpoint for the next scheduled scan; immediate-priority
// ones trigger a synchronous Tier-1 pass before the response is written.
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, m := range req.Messages {
		if m.SenderRole != models.RoleSubject && m.SenderRole != models.RoleOther {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sender_role: " + m.SenderRole})
			return
		}
		switch m.Modality {
		case models.ModalityText, models.ModalityImage, models.ModalityAudio, models.ModalityVideo:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modality: " + m.Modality})
			return
		}
	}

	subject, err := h.subjects.GetSubjectByID(req.SubjectID)
	if err != nil {
		h.logger.Error("Failed to load subject for ingest", zap.Int64("subject_id", req.SubjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load subject"})
		return
	}
	if subject == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
		return
	}
	if !subject.MonitoringEnabled {
		c.JSON(http.StatusOK, gin.H{"stored": 0, "reason": "monitoring disabled"})
		return
	}

	chat := &models.Chat{
		SubjectID:  subject.ID,
		ExternalID: req.ChatExternalID,
		Name:       req.ChatName,
		IsGroup:    req.IsGroup,
	}
	if err := h.chats.GetOrCreateChat(chat); err != nil {
		h.logger.Error("Failed to upsert chat", zap.String("external_id", req.ChatExternalID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store chat"})
		return
	}

	ctx := c.Request.Context()
	stored := make([]*models.Message, 0, len(req.Messages))
	plaintexts := make(map[int64]string, len(req.Messages))
	var latest time.Time

	for _, in := range req.Messages {
		msg := &models.Message{
			ChatID:     chat.ID,
			SubjectID:  subject.ID,
			ExternalID: in.ExternalID,
			SenderRole: in.SenderRole,
			Modality:   in.Modality,
			MediaRef:   in.MediaRef,
			Timestamp:  in.Timestamp,
		}

		text := in.Content
		if in.Modality != models.ModalityText && in.MediaRef != nil {
			if caption := h.captionMedia(ctx, subject.ID, *in.MediaRef, in.Modality); caption != "" {
				msg.Caption = &caption
			}
		}

		encrypted, err := h.cipher.Encrypt(text)
		if err != nil {
			h.logger.Error("Failed to encrypt message content", zap.String("external_id", in.ExternalID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store messages"})
			return
		}
		msg.ContentEncrypted = encrypted

		if err := h.messages.SaveMessage(msg); err != nil {
			h.logger.Error("Failed to save message", zap.String("external_id", in.ExternalID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store messages"})
			return
		}

		stored = append(stored, msg)
		plaintexts[msg.ID] = text
		if in.Timestamp.After(latest) {
			latest = in.Timestamp
		}
	}

	if err := h.chats.TouchActivity(chat.ID, latest); err != nil {
		h.logger.Error("Failed to touch chat activity", zap.Int64("chat_id", chat.ID), zap.Error(err))
	}
	if err := h.checkpoints.TouchActivity(chat.ID, latest); err != nil {
		h.logger.Error("Failed to touch checkpoint activity", zap.Int64("chat_id", chat.ID), zap.Error(err))
	}

	matches := prefilter.EvaluateBatch(stored, plaintexts)
	immediate := make([]*models.Message, 0)
	batchIDs := make([]int64, 0, len(stored))
	byID := make(map[int64]*models.Message, len(stored))
	for _, m := range stored {
		byID[m.ID] = m
	}
	for _, match := range matches {
		if match.Priority == prefilter.PriorityImmediate {
			immediate = append(immediate, byID[match.MessageID])
		} else {
			batchIDs = append(batchIDs, match.MessageID)
		}
	}

	immediateScanned := false
	if len(immediate) > 0 {
		outcome, err := h.tier1.Scan(ctx, chat, subject, immediate)
		if err != nil {
			// Park the failed batch so the next scheduler tick retries it.
			h.logger.Warn("Immediate tier-1 scan failed, deferring to scheduler",
				zap.Int64("chat_id", chat.ID), zap.Error(err))
			for _, m := range immediate {
				batchIDs = append(batchIDs, m.ID)
			}
		} else {
			immediateScanned = true
			if outcome.ShouldTriggerSmart {
				now := time.Now()
				if _, err := h.tier2.Evaluate(ctx, chat, subject, now.Add(-time.Hour), now); err != nil {
					h.logger.Warn("Tier-2 escalation from ingest failed, heartbeat will retry",
						zap.Int64("chat_id", chat.ID), zap.Error(err))
				}
			}
		}
	}

	if len(batchIDs) > 0 {
		if err := h.checkpoints.AppendPending(chat.ID, batchIDs); err != nil {
			h.logger.Error("Failed to append pending messages", zap.Int64("chat_id", chat.ID), zap.Error(err))
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"stored":            len(stored),
		"chat_id":           chat.ID,
		"immediate_scanned": immediateScanned,
		"batched":           len(batchIDs),
	})
}

// captionMedia asks the media collaborator for a caption/transcript and
// charges the subject's ledger for it. Any failure yields an empty caption.
func (h *IngestHandler) captionMedia(ctx context.Context, subjectID int64, mediaRef, modality string) string {
	if h.captioner == nil {
		return ""
	}
	resp, err := h.captioner.Caption(ctx, mediaRef, modality)
	if err != nil {
		h.logger.Warn("Media captioning failed, storing message without caption",
			zap.String("modality", modality), zap.Error(err))
		return ""
	}
	if err := h.ledger.RecordUsage(subjectID, budget.TierCaption, resp.Model, resp.InputTokens, resp.OutputTokens); err != nil {
		h.logger.Error("Failed to record caption usage", zap.Int64("subject_id", subjectID), zap.Error(err))
	}
	return resp.Caption
}
