// Package smart_agent is the Tier-2 contextual decision-maker: a mid-cost
// LLM pass over a full conversation window plus the accumulated Tier-1
// signals, with an optional Tier-3 fallback re-evaluation on low confidence.
package smart_agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/budget"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/crypto"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/finding_emitter"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/llm"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/repository"
)

// FallbackConfidenceThreshold is the confidence below which a non-ignore
// decision triggers the Tier-3 fallback, budget permitting.
const FallbackConfidenceThreshold = 0.55

// ErrBadResponse marks a Tier-2 reply that failed strict parsing. Nothing is
// persisted and nothing escalates from a parse failure alone.
var ErrBadResponse = errors.New("smart agent: unparsable classifier response")

const systemPrompt = `You are a child-safety analyst reviewing a chat conversation involving a minor.
Reason over patterns across the whole window - grooming escalation, trust building, isolation, pressure - not isolated messages.
threat_type must be one of: grooming, sexual_content, violence, extortion, manipulation, none.
action must be one of: ignore, monitor, alert.
Respond with strict JSON only, no prose, matching:
{"final_risk_score":<0-100>,"threat_type":<string>,"confidence":<0.0-1.0>,"action":<string>,"key_reasons":[<string>...],"evidence_message_ids":[<int>...]}`

const fallbackInstruction = `A cheaper analyst reviewed this conversation with low confidence. Be thorough: re-read the full window, weigh every signal, and return your own judgment in the same strict JSON schema.`

// Result is the strict Tier-2 result schema.
type Result struct {
	FinalRiskScore     int      `json:"final_risk_score"`
	ThreatType         string   `json:"threat_type"`
	Confidence         float64  `json:"confidence"`
	Action             string   `json:"action"`
	KeyReasons         []string `json:"key_reasons"`
	EvidenceMessageIDs []int64  `json:"evidence_message_ids"`
}

// Agent runs Tier-2 evaluations.
type Agent struct {
	caller      *llm.Caller
	messages    repository.MessageRepository
	signals     repository.SignalRepository
	decisions   repository.DecisionRepository
	checkpoints repository.CheckpointRepository
	ledger      *budget.Ledger
	emitter     *finding_emitter.Emitter
	cipher      *crypto.Cipher
	logger      *zap.Logger
	now         func() time.Time
}

func NewAgent(
	caller *llm.Caller,
	messages repository.MessageRepository,
	signals repository.SignalRepository,
	decisions repository.DecisionRepository,
	checkpoints repository.CheckpointRepository,
	ledger *budget.Ledger,
	emitter *finding_emitter.Emitter,
	cipher *crypto.Cipher,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		caller:      caller,
		messages:    messages,
		signals:     signals,
		decisions:   decisions,
		checkpoints: checkpoints,
		ledger:      ledger,
		emitter:     emitter,
		cipher:      cipher,
		logger:      logger,
		now:         time.Now,
	}
}

// Evaluate runs one Tier-2 pass over the conversation window. It always
// persists the decision it settles on (original or fallback replacement) and
// stamps the checkpoint; an "alert" action additionally emits a Finding.
// An empty window returns (nil, nil) - a skipped evaluation, not an error.
func (a *Agent) Evaluate(ctx context.Context, chat *models.Chat, subject *models.Subject, from, to time.Time) (*models.SmartDecision, error) {
	msgs, err := a.messages.GetMessagesInWindow(chat.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load window for chat %d: %w", chat.ID, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	sigs, err := a.signals.GetSignalsInWindow(chat.ID, from, to)
	if err != nil {
		a.logger.Error("Failed to load tier-1 signals, evaluating without them",
			zap.Int64("chat_id", chat.ID), zap.Error(err))
		sigs = nil
	}

	user, err := a.buildUserPrompt(chat, subject, msgs, sigs, from, to)
	if err != nil {
		return nil, err
	}

	res, err := a.caller.Invoke(ctx, llm.TierSmart, systemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("tier-2 evaluation of chat %d: %w", chat.ID, err)
	}
	if err := a.ledger.RecordUsage(subject.ID, budget.TierSmart, res.Model, res.InputTokens, res.OutputTokens); err != nil {
		a.logger.Error("Failed to record tier-2 usage", zap.Int64("subject_id", subject.ID), zap.Error(err))
	}

	parsed, err := ParseResult(res.Content)
	if err != nil {
		a.logger.Warn("Tier-2 response failed strict parsing, dropping evaluation",
			zap.Int64("chat_id", chat.ID),
			zap.String("raw_response", res.Content),
			zap.Error(err))
		return nil, ErrBadResponse
	}

	model := res.Model
	fallbackUsed := false
	if NeedsFallback(parsed.Confidence, parsed.Action) {
		if replacement, replacementModel := a.tryFallback(ctx, chat, subject, user); replacement != nil {
			parsed = replacement
			model = replacementModel
			fallbackUsed = true
		}
	}

	decision := &models.SmartDecision{
		EvaluationID:       uuid.NewString(),
		ChatID:             chat.ID,
		SubjectID:          subject.ID,
		WindowFrom:         from,
		WindowTo:           to,
		FinalRiskScore:     parsed.FinalRiskScore,
		ThreatType:         parsed.ThreatType,
		Confidence:         parsed.Confidence,
		Action:             parsed.Action,
		KeyReasons:         parsed.KeyReasons,
		EvidenceMessageIDs: parsed.EvidenceMessageIDs,
		FallbackUsed:       fallbackUsed,
		Model:              model,
	}
	if err := a.decisions.SaveDecision(decision); err != nil {
		return nil, fmt.Errorf("persist tier-2 decision for chat %d: %w", chat.ID, err)
	}

	if err := a.checkpoints.StampTier2Scan(chat.ID, a.now()); err != nil {
		a.logger.Error("Failed to stamp tier-2 scan time", zap.Int64("chat_id", chat.ID), zap.Error(err))
	}

	a.logger.Info("Tier-2 evaluation completed",
		zap.Int64("chat_id", chat.ID),
		zap.String("evaluation_id", decision.EvaluationID),
		zap.String("action", decision.Action),
		zap.Int("final_risk_score", decision.FinalRiskScore),
		zap.Float64("confidence", decision.Confidence),
		zap.Bool("fallback_used", fallbackUsed))

	if decision.Action == models.ActionAlert {
		if _, err := a.emitter.Emit(ctx, subject, decision); err != nil {
			// The decision row is already durable; the finding failure is
			// logged for reconciliation.
			a.logger.Error("Failed to emit finding for alert decision",
				zap.Int64("decision_id", decision.ID), zap.Error(err))
		}
	}

	return decision, nil
}

// tryFallback re-invokes the reasoning on the Tier-3 model. Budget gating
// happens here: when fallback is disallowed the original decision stands, a
// deliberate false-negative risk the design accepts under hard spend caps.
// Any fallback failure (call or parse) also keeps the original decision.
func (a *Agent) tryFallback(ctx context.Context, chat *models.Chat, subject *models.Subject, user string) (*Result, string) {
	check, err := a.ledger.CheckBudget(subject.ID)
	if err != nil {
		a.logger.Error("Budget check failed, skipping fallback", zap.Int64("subject_id", subject.ID), zap.Error(err))
		return nil, ""
	}
	if !check.FallbackAllowed {
		a.logger.Warn("Fallback skipped for budget reasons, keeping low-confidence decision",
			zap.Int64("subject_id", subject.ID),
			zap.Bool("soft_limit_exceeded", check.SoftLimitExceeded),
			zap.Bool("hard_limit_exceeded", check.HardLimitExceeded))
		return nil, ""
	}

	res, err := a.caller.Invoke(ctx, llm.TierFallback, systemPrompt+"\n"+fallbackInstruction, user)
	if err != nil {
		a.logger.Warn("Fallback call failed, keeping original decision",
			zap.Int64("chat_id", chat.ID), zap.Error(err))
		return nil, ""
	}
	if err := a.ledger.RecordUsage(subject.ID, budget.TierFallback, res.Model, res.InputTokens, res.OutputTokens); err != nil {
		a.logger.Error("Failed to record fallback usage", zap.Int64("subject_id", subject.ID), zap.Error(err))
	}

	parsed, err := ParseResult(res.Content)
	if err != nil {
		a.logger.Warn("Fallback response failed strict parsing, keeping original decision",
			zap.Int64("chat_id", chat.ID), zap.Error(err))
		return nil, ""
	}
	return parsed, res.Model
}

// windowMessage is the shape each message takes inside the user prompt.
type windowMessage struct {
	MessageID  int64    `json:"message_id"`
	Role       string   `json:"role"`
	Timestamp  string   `json:"timestamp"`
	Text       string   `json:"text"`
	Caption    string   `json:"caption,omitempty"`
	HasAudio   bool     `json:"has_audio,omitempty"`
	Tier1Score *int     `json:"tier1_risk_score,omitempty"`
	Tier1Codes []string `json:"tier1_risk_codes,omitempty"`
}

func (a *Agent) buildUserPrompt(chat *models.Chat, subject *models.Subject, msgs []*models.Message, sigs []*models.SmallSignal, from, to time.Time) (string, error) {
	age := subject.Age
	if age <= 0 {
		age = models.DefaultSubjectAge
	}

	sigByMsg := make(map[int64]*models.SmallSignal, len(sigs))
	for _, sig := range sigs {
		sigByMsg[sig.MessageID] = sig
	}

	wms := make([]windowMessage, 0, len(msgs))
	for _, msg := range msgs {
		text, err := a.cipher.Decrypt(msg.ContentEncrypted)
		if err != nil {
			a.logger.Warn("Failed to decrypt message for evaluation, using empty text",
				zap.Int64("message_id", msg.ID), zap.Error(err))
			text = ""
		}
		wm := windowMessage{
			MessageID: msg.ID,
			Role:      msg.SenderRole,
			Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
			Text:      text,
			HasAudio:  msg.HasAudio(),
		}
		if msg.Caption != nil {
			wm.Caption = *msg.Caption
		}
		if sig, ok := sigByMsg[msg.ID]; ok {
			score := sig.RiskScore
			wm.Tier1Score = &score
			wm.Tier1Codes = sig.RiskCodes
		}
		wms = append(wms, wm)
	}

	payload, err := json.Marshal(wms)
	if err != nil {
		return "", fmt.Errorf("marshal window: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Subject age: %d. Platform: %s. Conversation: %q (group: %t).\n", age, subject.Platform, chat.Name, chat.IsGroup)
	fmt.Fprintf(&b, "Window: %s to %s.\n", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	b.WriteString("Messages with first-pass risk signals:\n")
	b.Write(payload)
	return b.String(), nil
}

// NeedsFallback reproduces the Tier-3 trigger condition, before budget gating.
func NeedsFallback(confidence float64, action string) bool {
	return confidence < FallbackConfidenceThreshold && action != models.ActionIgnore
}

// ParseResult validates the Tier-2 reply against the strict schema: the
// threat type and action must come from the fixed vocabularies, score and
// confidence are clamped to their ranges.
func ParseResult(content string) (*Result, error) {
	var parsed Result
	if err := json.Unmarshal([]byte(llm.CleanJSON(content)), &parsed); err != nil {
		return nil, fmt.Errorf("parse tier-2 response: %w", err)
	}
	if !models.ThreatTypes[parsed.ThreatType] {
		return nil, fmt.Errorf("parse tier-2 response: unknown threat_type %q", parsed.ThreatType)
	}
	if !models.Actions[parsed.Action] {
		return nil, fmt.Errorf("parse tier-2 response: unknown action %q", parsed.Action)
	}
	if parsed.FinalRiskScore < 0 {
		parsed.FinalRiskScore = 0
	}
	if parsed.FinalRiskScore > 100 {
		parsed.FinalRiskScore = 100
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return &parsed, nil
}
