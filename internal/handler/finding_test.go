package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/crypto"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

type fakeFindings struct {
	byID map[int64]*models.Finding
}

func (f *fakeFindings) SaveFinding(*models.Finding) error                     { return nil }
func (f *fakeFindings) GetFindingByID(id int64) (*models.Finding, error)      { return f.byID[id], nil }
func (f *fakeFindings) GetFindingsBySubject(int64) ([]*models.Finding, error) { return nil, nil }
func (f *fakeFindings) GetUnhandledFindings() ([]*models.Finding, error)      { return nil, nil }
func (f *fakeFindings) MarkHandled(int64) error                               { return nil }

type fakeDecisions struct {
	byID      map[int64]*models.SmartDecision
	bySubject []*models.SmartDecision
	lastLimit int
}

func (f *fakeDecisions) SaveDecision(*models.SmartDecision) error { return nil }
func (f *fakeDecisions) GetDecisionByID(id int64) (*models.SmartDecision, error) {
	return f.byID[id], nil
}
func (f *fakeDecisions) GetDecisionsBySubject(_ int64, limit int) ([]*models.SmartDecision, error) {
	f.lastLimit = limit
	return f.bySubject, nil
}

type findingFixture struct {
	router    *gin.Engine
	findings  *fakeFindings
	decisions *fakeDecisions
	cipher    *crypto.Cipher
}

func newFindingFixture(t *testing.T) *findingFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	findings := &fakeFindings{byID: map[int64]*models.Finding{}}
	decisions := &fakeDecisions{byID: map[int64]*models.SmartDecision{}}
	h := NewFindingHandler(findings, decisions, cipher, zap.NewNop())

	router := gin.New()
	router.GET("/api/v1/findings/:id", h.Get)
	router.GET("/api/v1/subjects/:id/decisions", h.ListDecisions)

	return &findingFixture{router: router, findings: findings, decisions: decisions, cipher: cipher}
}

func (f *findingFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestFindingGetIncludesDecision(t *testing.T) {
	f := newFindingFixture(t)
	encrypted, err := f.cipher.Encrypt("trust building; secrecy requests")
	require.NoError(t, err)
	f.findings.byID[7] = &models.Finding{
		ID: 7, SubjectID: 1, DecisionID: 5, ThreatDetected: true,
		RiskLevel: models.RiskLevelHigh, ExplanationEncrypted: encrypted,
	}
	f.decisions.byID[5] = &models.SmartDecision{
		ID: 5, SubjectID: 1, Action: models.ActionAlert, ThreatType: models.ThreatGrooming,
	}

	w := f.get(t, "/api/v1/findings/7")
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Finding struct {
			Explanation string `json:"explanation"`
			RiskLevel   string `json:"risk_level"`
		} `json:"finding"`
		Decision *models.SmartDecision `json:"decision"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "trust building; secrecy requests", body.Finding.Explanation)
	assert.Equal(t, models.RiskLevelHigh, body.Finding.RiskLevel)
	require.NotNil(t, body.Decision)
	assert.Equal(t, models.ActionAlert, body.Decision.Action)
	assert.Equal(t, models.ThreatGrooming, body.Decision.ThreatType)
}

func TestFindingGetUnknownDecisionStillServed(t *testing.T) {
	f := newFindingFixture(t)
	encrypted, err := f.cipher.Encrypt("reasons")
	require.NoError(t, err)
	f.findings.byID[7] = &models.Finding{ID: 7, DecisionID: 5, ExplanationEncrypted: encrypted}

	w := f.get(t, "/api/v1/findings/7")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"decision"`)
}

func TestFindingGetUnknown(t *testing.T) {
	f := newFindingFixture(t)

	w := f.get(t, "/api/v1/findings/99")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListDecisionsDefaultsLimit(t *testing.T) {
	f := newFindingFixture(t)
	f.decisions.bySubject = []*models.SmartDecision{{ID: 2}, {ID: 1}}

	w := f.get(t, "/api/v1/subjects/1/decisions")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, f.decisions.lastLimit)
	assert.Contains(t, w.Body.String(), `"decisions"`)
}

func TestListDecisionsCustomLimit(t *testing.T) {
	f := newFindingFixture(t)

	w := f.get(t, "/api/v1/subjects/1/decisions?limit=10")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, f.decisions.lastLimit)
}

func TestListDecisionsRejectsBadLimit(t *testing.T) {
	f := newFindingFixture(t)

	w := f.get(t, "/api/v1/subjects/1/decisions?limit=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
