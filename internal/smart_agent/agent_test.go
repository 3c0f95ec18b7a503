package smart_agent

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/budget"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/config"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/crypto"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/finding_emitter"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/llm"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/repository"
)

type stubProvider struct {
	content string
	err     error
	calls   int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(_ context.Context, req *llm.Request) (*llm.Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Result{Content: p.content, Model: req.Model, InputTokens: 200, OutputTokens: 80}, nil
}

type fakeMessages struct {
	window []*models.Message
}

func (f *fakeMessages) SaveMessage(*models.Message) error                   { return nil }
func (f *fakeMessages) GetMessagesByIDs([]int64) ([]*models.Message, error) { return nil, nil }
func (f *fakeMessages) GetMessagesSince(int64, time.Time) ([]*models.Message, error) {
	return nil, nil
}
func (f *fakeMessages) GetMessagesInWindow(int64, time.Time, time.Time) ([]*models.Message, error) {
	return f.window, nil
}
func (f *fakeMessages) UpdateCaption(int64, string) error { return nil }

type fakeSignals struct {
	window []*models.SmallSignal
}

func (f *fakeSignals) SaveSignals([]*models.SmallSignal) error { return nil }
func (f *fakeSignals) GetSignalsInWindow(int64, time.Time, time.Time) ([]*models.SmallSignal, error) {
	return f.window, nil
}

type fakeDecisions struct {
	saved []*models.SmartDecision
}

func (f *fakeDecisions) SaveDecision(d *models.SmartDecision) error {
	d.ID = int64(len(f.saved) + 1)
	f.saved = append(f.saved, d)
	return nil
}
func (f *fakeDecisions) GetDecisionByID(int64) (*models.SmartDecision, error) { return nil, nil }
func (f *fakeDecisions) GetDecisionsBySubject(int64, int) ([]*models.SmartDecision, error) {
	return nil, nil
}

type fakeCheckpoints struct {
	tier2Stamped []int64
}

func (f *fakeCheckpoints) GetCheckpoint(int64) (*models.ScanCheckpoint, error) { return nil, nil }
func (f *fakeCheckpoints) StampTier1Scan(int64, time.Time) error               { return nil }
func (f *fakeCheckpoints) StampTier2Scan(chatID int64, _ time.Time) error {
	f.tier2Stamped = append(f.tier2Stamped, chatID)
	return nil
}
func (f *fakeCheckpoints) TouchActivity(int64, time.Time) error { return nil }
func (f *fakeCheckpoints) AppendPending(int64, []int64) error   { return nil }
func (f *fakeCheckpoints) RemovePending(int64, []int64) error   { return nil }
func (f *fakeCheckpoints) SetScanInterval(int64, int) error     { return nil }

type fakeUsage struct {
	meter  *models.UsageMeter
	deltas []repository.UsageDelta
}

func (f *fakeUsage) IncrementUsage(_ int64, _ string, delta repository.UsageDelta) error {
	f.deltas = append(f.deltas, delta)
	return nil
}
func (f *fakeUsage) GetUsage(int64, string) (*models.UsageMeter, error) { return f.meter, nil }

type fakeFindings struct {
	saved []*models.Finding
}

func (f *fakeFindings) SaveFinding(finding *models.Finding) error {
	finding.ID = int64(len(f.saved) + 1)
	f.saved = append(f.saved, finding)
	return nil
}
func (f *fakeFindings) GetFindingByID(int64) (*models.Finding, error)        { return nil, nil }
func (f *fakeFindings) GetFindingsBySubject(int64) ([]*models.Finding, error) { return nil, nil }
func (f *fakeFindings) GetUnhandledFindings() ([]*models.Finding, error)      { return nil, nil }
func (f *fakeFindings) MarkHandled(int64) error                               { return nil }

type fixture struct {
	agent       *Agent
	smart       *stubProvider
	fallback    *stubProvider
	decisions   *fakeDecisions
	checkpoints *fakeCheckpoints
	findings    *fakeFindings
	usage       *fakeUsage
	cipher      *crypto.Cipher
	messages    *fakeMessages
}

func newFixture(t *testing.T, smartContent, fallbackContent string) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	smart := &stubProvider{content: smartContent}
	fallback := &stubProvider{content: fallbackContent}
	caller := llm.NewCallerWithProviders(
		map[llm.Tier]llm.Provider{llm.TierSmart: smart, llm.TierFallback: fallback},
		map[llm.Tier]string{llm.TierSmart: "big", llm.TierFallback: "biggest"},
		zap.NewNop(),
	)

	usage := &fakeUsage{}
	ledger := budget.NewLedger(usage, map[string]config.ModelPrice{"default": {}},
		config.BudgetConfig{SoftLimit: 4.5, HardLimit: 5, MaxFallbackCalls: 30}, zap.NewNop())

	findings := &fakeFindings{}
	emitter := finding_emitter.NewEmitter(findings, nil, cipher, zap.NewNop())

	messages := &fakeMessages{}
	decisions := &fakeDecisions{}
	checkpoints := &fakeCheckpoints{}
	agent := NewAgent(caller, messages, &fakeSignals{}, decisions, checkpoints, ledger, emitter, cipher, zap.NewNop())

	return &fixture{
		agent: agent, smart: smart, fallback: fallback,
		decisions: decisions, checkpoints: checkpoints, findings: findings,
		usage: usage, cipher: cipher, messages: messages,
	}
}

func (f *fixture) addMessage(t *testing.T, id int64, text string) {
	t.Helper()
	encrypted, err := f.cipher.Encrypt(text)
	require.NoError(t, err)
	f.messages.window = append(f.messages.window, &models.Message{
		ID:               id,
		ChatID:           1,
		SubjectID:        1,
		SenderRole:       models.RoleOther,
		Modality:         models.ModalityText,
		ContentEncrypted: encrypted,
		Timestamp:        time.Now(),
	})
}

var testChat = &models.Chat{ID: 1, SubjectID: 1, Name: "dm"}
var testSubject = &models.Subject{ID: 1, Name: "Kim", Age: 12, MonitoringEnabled: true}

func window() (time.Time, time.Time) {
	to := time.Now()
	return to.Add(-time.Hour), to
}

const confidentAlert = `{"final_risk_score":85,"threat_type":"grooming","confidence":0.9,"action":"alert","key_reasons":["trust building","secrecy requests"],"evidence_message_ids":[10]}`
const hesitantMonitor = `{"final_risk_score":45,"threat_type":"manipulation","confidence":0.4,"action":"monitor","key_reasons":["ambiguous pressure"],"evidence_message_ids":[10]}`
const hesitantAlert = `{"final_risk_score":60,"threat_type":"grooming","confidence":0.4,"action":"alert","key_reasons":["possible grooming"],"evidence_message_ids":[10]}`
const lowConfidenceIgnore = `{"final_risk_score":5,"threat_type":"none","confidence":0.3,"action":"ignore","key_reasons":[],"evidence_message_ids":[]}`
const fallbackVerdict = `{"final_risk_score":70,"threat_type":"grooming","confidence":0.8,"action":"alert","key_reasons":["clear escalation pattern"],"evidence_message_ids":[10]}`

func TestEvaluateEmptyWindowSkips(t *testing.T) {
	f := newFixture(t, confidentAlert, "")
	from, to := window()

	decision, err := f.agent.Evaluate(context.Background(), testChat, testSubject, from, to)
	require.NoError(t, err)
	assert.Nil(t, decision)
	assert.Zero(t, f.smart.calls)
}

func TestEvaluateConfidentAlertEmitsFinding(t *testing.T) {
	f := newFixture(t, confidentAlert, "")
	f.addMessage(t, 10, "this is our secret")
	from, to := window()

	decision, err := f.agent.Evaluate(context.Background(), testChat, testSubject, from, to)
	require.NoError(t, err)
	require.NotNil(t, decision)

	assert.Equal(t, models.ActionAlert, decision.Action)
	assert.Equal(t, 85, decision.FinalRiskScore)
	assert.False(t, decision.FallbackUsed)
	assert.Equal(t, "big", decision.Model)
	assert.NotEmpty(t, decision.EvaluationID)
	assert.Zero(t, f.fallback.calls)

	require.Len(t, f.decisions.saved, 1)
	assert.Equal(t, []int64{1}, f.checkpoints.tier2Stamped)

	require.Len(t, f.findings.saved, 1)
	finding := f.findings.saved[0]
	assert.Equal(t, models.RiskLevelHigh, finding.RiskLevel)
	assert.Equal(t, []string{models.ThreatGrooming}, []string(finding.ThreatTypes))
	assert.Equal(t, decision.ID, finding.DecisionID)
}

func TestEvaluateLowConfidenceTriggersFallback(t *testing.T) {
	f := newFixture(t, hesitantMonitor, fallbackVerdict)
	f.addMessage(t, 10, "you're so mature for your age")
	from, to := window()

	decision, err := f.agent.Evaluate(context.Background(), testChat, testSubject, from, to)
	require.NoError(t, err)
	require.NotNil(t, decision)

	assert.Equal(t, 1, f.fallback.calls)
	assert.True(t, decision.FallbackUsed)
	assert.Equal(t, "biggest", decision.Model)
	// The fallback verdict replaces the original wholesale.
	assert.Equal(t, 70, decision.FinalRiskScore)
	assert.Equal(t, models.ActionAlert, decision.Action)
	assert.InDelta(t, 0.8, decision.Confidence, 1e-9)

	// Only the replacement is persisted.
	require.Len(t, f.decisions.saved, 1)
	// And the alert still emits a finding.
	assert.Len(t, f.findings.saved, 1)

	// Both paid calls metered: one smart, one fallback.
	require.Len(t, f.usage.deltas, 2)
	assert.Equal(t, 1, f.usage.deltas[0].SmartCalls)
	assert.Equal(t, 1, f.usage.deltas[1].FallbackCalls)
}

func TestEvaluateLowConfidenceIgnoreSkipsFallback(t *testing.T) {
	f := newFixture(t, lowConfidenceIgnore, fallbackVerdict)
	f.addMessage(t, 10, "see you at school")
	from, to := window()

	decision, err := f.agent.Evaluate(context.Background(), testChat, testSubject, from, to)
	require.NoError(t, err)
	require.NotNil(t, decision)

	assert.Zero(t, f.fallback.calls)
	assert.False(t, decision.FallbackUsed)
	assert.Equal(t, models.ActionIgnore, decision.Action)
	assert.Empty(t, f.findings.saved)
}

func TestEvaluateFallbackBlockedByBudgetKeepsOriginal(t *testing.T) {
	f := newFixture(t, hesitantAlert, fallbackVerdict)
	// Fallback cap for the month is already spent.
	f.usage.meter = &models.UsageMeter{SubjectID: 1, EstimatedCost: 2.0, FallbackCalls: 30}
	f.addMessage(t, 10, "don't tell your parents about us")
	from, to := window()

	decision, err := f.agent.Evaluate(context.Background(), testChat, testSubject, from, to)
	require.NoError(t, err)
	require.NotNil(t, decision)

	assert.Zero(t, f.fallback.calls)
	assert.False(t, decision.FallbackUsed)
	assert.Equal(t, "big", decision.Model)
	assert.InDelta(t, 0.4, decision.Confidence, 1e-9)
	assert.Equal(t, models.ActionAlert, decision.Action)

	// The low-confidence alert still persists and still produces a finding.
	require.Len(t, f.decisions.saved, 1)
	assert.Len(t, f.findings.saved, 1)
}

func TestEvaluateFallbackFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t, hesitantMonitor, "")
	f.fallback.err = context.DeadlineExceeded
	f.addMessage(t, 10, "keep this private")
	from, to := window()

	decision, err := f.agent.Evaluate(context.Background(), testChat, testSubject, from, to)
	require.NoError(t, err)
	require.NotNil(t, decision)

	assert.Equal(t, 1, f.fallback.calls)
	assert.False(t, decision.FallbackUsed)
	assert.Equal(t, models.ActionMonitor, decision.Action)
	assert.Equal(t, 45, decision.FinalRiskScore)
}

func TestEvaluateParseFailureIsSoft(t *testing.T) {
	f := newFixture(t, "I think this conversation looks fine.", "")
	f.addMessage(t, 10, "hello")
	from, to := window()

	_, err := f.agent.Evaluate(context.Background(), testChat, testSubject, from, to)
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Empty(t, f.decisions.saved)
	assert.Empty(t, f.checkpoints.tier2Stamped)
}

func TestNeedsFallback(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		action     string
		want       bool
	}{
		{"low confidence monitor", 0.4, models.ActionMonitor, true},
		{"low confidence alert", 0.54, models.ActionAlert, true},
		{"low confidence ignore", 0.1, models.ActionIgnore, false},
		{"at threshold", 0.55, models.ActionAlert, false},
		{"high confidence alert", 0.9, models.ActionAlert, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsFallback(tt.confidence, tt.action))
		})
	}
}

func TestParseResultValidation(t *testing.T) {
	t.Run("unknown threat type rejected", func(t *testing.T) {
		_, err := ParseResult(`{"final_risk_score":10,"threat_type":"gossip","confidence":0.5,"action":"monitor","key_reasons":[],"evidence_message_ids":[]}`)
		assert.Error(t, err)
	})

	t.Run("unknown action rejected", func(t *testing.T) {
		_, err := ParseResult(`{"final_risk_score":10,"threat_type":"none","confidence":0.5,"action":"escalate","key_reasons":[],"evidence_message_ids":[]}`)
		assert.Error(t, err)
	})

	t.Run("score and confidence clamped", func(t *testing.T) {
		parsed, err := ParseResult(`{"final_risk_score":120,"threat_type":"grooming","confidence":1.4,"action":"alert","key_reasons":[],"evidence_message_ids":[]}`)
		require.NoError(t, err)
		assert.Equal(t, 100, parsed.FinalRiskScore)
		assert.InDelta(t, 1.0, parsed.Confidence, 1e-9)
	})

	t.Run("fenced json accepted", func(t *testing.T) {
		parsed, err := ParseResult("```json\n" + confidentAlert + "\n```")
		require.NoError(t, err)
		assert.Equal(t, models.ActionAlert, parsed.Action)
	})
}
