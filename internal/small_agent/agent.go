// Package small_agent is the Tier-1 classifier: a cheap per-batch LLM pass
// over raw messages that decides whether a conversation deserves the costlier
// Tier-2 contextual evaluation.
package small_agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/budget"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/crypto"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/llm"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/repository"
)

// EscalationScoreThreshold is the per-message risk score at or above which a
// batch escalates to Tier-2.
const EscalationScoreThreshold = 40

// ErrBadResponse marks a classifier reply that failed strict parsing. The
// batch is a soft failure: no signals are persisted, nothing escalates, and
// the checkpoint is left untouched.
var ErrBadResponse = errors.New("small agent: unparsable classifier response")

const systemPrompt = `You are a first-pass safety classifier for chat messages sent to or by a minor.
Minimize false positives: most conversations are harmless banter.
Score each message 0-100 for risk to the minor. Use only these risk codes:
grooming, meetup, secrecy, sexual_content, explicit_images, extortion, isolation, manipulation, personal_info.
Respond with strict JSON only, no prose, matching:
{"messages":[{"message_id":<int>,"risk_score":<0-100>,"risk_codes":[<string>...],"escalate":<bool>}],"escalate":<bool>}
Include one entry per input message. Set the batch "escalate" flag only when the batch as a whole warrants deeper review.`

// MessageResult is one per-message entry of the strict Tier-1 result schema.
type MessageResult struct {
	MessageID int64    `json:"message_id"`
	RiskScore int      `json:"risk_score"`
	RiskCodes []string `json:"risk_codes"`
	Escalate  bool     `json:"escalate"`
}

// Result is the strict Tier-1 result schema.
type Result struct {
	Messages []MessageResult `json:"messages"`
	Escalate bool            `json:"escalate"`
}

// Outcome is what a completed Tier-1 pass hands back to its trigger.
type Outcome struct {
	Signals            []*models.SmallSignal
	ShouldTriggerSmart bool
}

// Agent runs Tier-1 scans.
type Agent struct {
	caller      *llm.Caller
	signals     repository.SignalRepository
	checkpoints repository.CheckpointRepository
	ledger      *budget.Ledger
	cipher      *crypto.Cipher
	logger      *zap.Logger
	now         func() time.Time
}

func NewAgent(
	caller *llm.Caller,
	signals repository.SignalRepository,
	checkpoints repository.CheckpointRepository,
	ledger *budget.Ledger,
	cipher *crypto.Cipher,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		caller:      caller,
		signals:     signals,
		checkpoints: checkpoints,
		ledger:      ledger,
		cipher:      cipher,
		logger:      logger,
		now:         time.Now,
	}
}

// Scan classifies one ordered batch of messages for a conversation. Provider
// failures propagate to the caller (retryable ones are retried by the next
// trigger); parse failures return ErrBadResponse. On success it persists one
// signal per message, removes exactly the scanned messages from the pending
// batch, and stamps the checkpoint.
func (a *Agent) Scan(ctx context.Context, chat *models.Chat, subject *models.Subject, msgs []*models.Message) (*Outcome, error) {
	if len(msgs) == 0 {
		return &Outcome{}, nil
	}

	user, err := a.buildUserPrompt(subject, msgs)
	if err != nil {
		return nil, err
	}

	res, err := a.caller.Invoke(ctx, llm.TierSmall, systemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("tier-1 scan of chat %d: %w", chat.ID, err)
	}

	if err := a.ledger.RecordUsage(subject.ID, budget.TierSmall, res.Model, res.InputTokens, res.OutputTokens); err != nil {
		// Metering failure must not discard a classification we already paid for.
		a.logger.Error("Failed to record tier-1 usage", zap.Int64("subject_id", subject.ID), zap.Error(err))
	}

	parsed, err := ParseResult(res.Content, msgs)
	if err != nil {
		a.logger.Warn("Tier-1 response failed strict parsing, dropping batch",
			zap.Int64("chat_id", chat.ID),
			zap.String("raw_response", res.Content),
			zap.Error(err))
		return nil, ErrBadResponse
	}

	outcome := &Outcome{ShouldTriggerSmart: ShouldEscalate(parsed)}
	for _, mr := range parsed.Messages {
		outcome.Signals = append(outcome.Signals, &models.SmallSignal{
			MessageID: mr.MessageID,
			ChatID:    chat.ID,
			RiskScore: mr.RiskScore,
			RiskCodes: mr.RiskCodes,
			Escalate:  mr.Escalate,
		})
	}

	// A failed insert is logged for reconciliation but does not block the
	// escalation decision already computed in memory.
	if err := a.signals.SaveSignals(outcome.Signals); err != nil {
		a.logger.Error("Failed to persist tier-1 signals, escalation decision unaffected",
			zap.Int64("chat_id", chat.ID),
			zap.Int("signal_count", len(outcome.Signals)),
			zap.Error(err))
	}

	scannedIDs := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		scannedIDs = append(scannedIDs, msg.ID)
	}
	if err := a.checkpoints.RemovePending(chat.ID, scannedIDs); err != nil {
		a.logger.Error("Failed to remove scanned messages from pending batch",
			zap.Int64("chat_id", chat.ID), zap.Error(err))
	}
	if err := a.checkpoints.StampTier1Scan(chat.ID, a.now()); err != nil {
		a.logger.Error("Failed to stamp tier-1 scan time", zap.Int64("chat_id", chat.ID), zap.Error(err))
	}

	a.logger.Info("Tier-1 scan completed",
		zap.Int64("chat_id", chat.ID),
		zap.Int("messages", len(msgs)),
		zap.Bool("escalate", outcome.ShouldTriggerSmart))
	return outcome, nil
}

// promptMessage is the shape each message takes inside the user prompt.
type promptMessage struct {
	MessageID int64  `json:"message_id"`
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	Caption   string `json:"caption,omitempty"`
	HasAudio  bool   `json:"has_audio,omitempty"`
}

func (a *Agent) buildUserPrompt(subject *models.Subject, msgs []*models.Message) (string, error) {
	age := subject.Age
	if age <= 0 {
		age = models.DefaultSubjectAge
	}

	pms := make([]promptMessage, 0, len(msgs))
	for _, msg := range msgs {
		text, err := a.cipher.Decrypt(msg.ContentEncrypted)
		if err != nil {
			a.logger.Warn("Failed to decrypt message for classification, using empty text",
				zap.Int64("message_id", msg.ID), zap.Error(err))
			text = ""
		}
		pm := promptMessage{
			MessageID: msg.ID,
			Role:      msg.SenderRole,
			Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
			Text:      text,
			HasAudio:  msg.HasAudio(),
		}
		if msg.Caption != nil {
			pm.Caption = *msg.Caption
		}
		pms = append(pms, pm)
	}

	payload, err := json.Marshal(pms)
	if err != nil {
		return "", fmt.Errorf("marshal prompt batch: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The subject is %d years old. Classify each message in this batch:\n", age)
	b.Write(payload)
	return b.String(), nil
}

// ParseResult validates the classifier reply against the strict Tier-1
// schema: every entry must reference a message from the input batch, scores
// are clamped to 0-100, and unknown risk codes are dropped.
func ParseResult(content string, msgs []*models.Message) (*Result, error) {
	var parsed Result
	if err := json.Unmarshal([]byte(llm.CleanJSON(content)), &parsed); err != nil {
		return nil, fmt.Errorf("parse tier-1 response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return nil, fmt.Errorf("parse tier-1 response: empty messages array")
	}

	known := make(map[int64]bool, len(msgs))
	for _, msg := range msgs {
		known[msg.ID] = true
	}

	for i := range parsed.Messages {
		mr := &parsed.Messages[i]
		if !known[mr.MessageID] {
			return nil, fmt.Errorf("parse tier-1 response: unknown message id %d", mr.MessageID)
		}
		if mr.RiskScore < 0 {
			mr.RiskScore = 0
		}
		if mr.RiskScore > 100 {
			mr.RiskScore = 100
		}
		valid := mr.RiskCodes[:0]
		for _, code := range mr.RiskCodes {
			if models.RiskCodes[code] {
				valid = append(valid, code)
			}
		}
		mr.RiskCodes = valid
	}
	return &parsed, nil
}

// ShouldEscalate reproduces the Tier-2 escalation rule: the batch flag, any
// score at or above the threshold, any per-message escalate flag, or any
// critical risk code.
func ShouldEscalate(parsed *Result) bool {
	if parsed.Escalate {
		return true
	}
	for _, mr := range parsed.Messages {
		if mr.RiskScore >= EscalationScoreThreshold || mr.Escalate {
			return true
		}
		for _, code := range mr.RiskCodes {
			if models.CriticalRiskCodes[code] {
				return true
			}
		}
	}
	return false
}
