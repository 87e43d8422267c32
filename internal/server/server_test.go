package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iwvelando/portfolio-optimizer/internal/marketdata"
	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/datetime"
	"github.com/iwvelando/portfolio-optimizer/pkg/portfolio"
	"github.com/iwvelando/portfolio-optimizer/pkg/stats"
	"github.com/iwvelando/portfolio-optimizer/pkg/testutil"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const manualPlan = `
assets:
  - name: Bonds
    expectedReturn: 4
    volatility: 5
  - name: Stocks
    expectedReturn: 10
    volatility: 20
preferences:
  desiredReturn: 7
`

const pricedPlan = `
assets:
  - name: Cash
    expectedReturn: 1
    volatility: 2
  - name: Venture
    expectedReturn: 30
    volatility: 40
  - name: Index
    symbol: IDX
history:
  start: "2020-01-01"
  end: "2021-01-01"
preferences:
  desiredReturn: 8
`

type staticSource struct {
	prices map[string][]stats.Price
}

func (s staticSource) History(_ context.Context, symbol string, start, end time.Time) ([]stats.Price, error) {
	var out []stats.Price
	for _, p := range s.prices[symbol] {
		if !p.Date.Before(start) && p.Date.Before(end) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, marketdata.ErrNoData)
	}
	return out, nil
}

func newTestHandler(source marketdata.Source) http.Handler {
	return NewHandler(zap.NewNop(), Options{
		MaxUploadSize: constants.DefaultMaxUploadSizeBytes,
		Version:       "1.2.3",
		Source:        source,
	})
}

func TestHandleOptimizeSuccess(t *testing.T) {
	handler := newTestHandler(nil)

	rr := performJSON(t, handler, "/api/optimize", map[string]interface{}{
		"assets":     []string{"Bonds", "Stocks"},
		"returns":    []float64{0.05, 0.10},
		"covariance": [][]float64{{0.01, 0}, {0, 0.04}},
		"target":     0.075,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp optimizeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Summary == nil || len(resp.Summary.Allocations) != 2 {
		t.Fatalf("expected two allocations, got %+v", resp.Summary)
	}
	for _, name := range []string{"Bonds", "Stocks"} {
		a := testutil.FindAllocation(resp.Summary, name)
		if a == nil {
			t.Fatalf("allocation %s missing", name)
		}
		if math.Abs(a.Weight-0.5) > 1e-9 {
			t.Errorf("%s weight = %g, expected 0.5", name, a.Weight)
		}
	}
	if math.Abs(resp.Summary.ExpectedReturn-0.075) > 1e-9 {
		t.Errorf("expected return = %g, expected 0.075", resp.Summary.ExpectedReturn)
	}
	if resp.Duration == "" {
		t.Error("expected duration in response")
	}
}

func TestHandleOptimizeFailures(t *testing.T) {
	handler := newTestHandler(nil)

	tests := []struct {
		name       string
		payload    map[string]interface{}
		wantStatus int
		wantKind   string
	}{
		{
			name: "Target unreachable",
			payload: map[string]interface{}{
				"returns":    []float64{0.05, 0.10},
				"covariance": [][]float64{{0.01, 0}, {0, 0.04}},
				"target":     0.2,
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "target_unreachable",
		},
		{
			name: "Single asset",
			payload: map[string]interface{}{
				"returns":    []float64{0.05},
				"covariance": [][]float64{{0.01}},
				"target":     0.05,
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_input",
		},
		{
			name: "Indefinite covariance",
			payload: map[string]interface{}{
				"returns":    []float64{0.05, 0.10},
				"covariance": [][]float64{{0.04, 0.05}, {0.05, 0.04}},
				"target":     0.075,
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "ill_conditioned",
		},
		{
			name: "Bounds incompatible with budget",
			payload: map[string]interface{}{
				"returns":    []float64{0.05, 0.10},
				"covariance": [][]float64{{0.01, 0}, {0, 0.04}},
				"target":     0.075,
				"bounds":     []map[string]float64{{"lower": 0, "upper": 0.3}, {"lower": 0, "upper": 0.3}},
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "infeasible",
		},
		{
			name: "Asset names mismatch",
			payload: map[string]interface{}{
				"assets":     []string{"Only"},
				"returns":    []float64{0.05, 0.10},
				"covariance": [][]float64{{0.01, 0}, {0, 0.04}},
				"target":     0.075,
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "Unknown field",
			payload: map[string]interface{}{
				"returns":    []float64{0.05, 0.10},
				"covariance": [][]float64{{0.01, 0}, {0, 0.04}},
				"target":     0.075,
				"leverage":   2,
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := performJSON(t, handler, "/api/optimize", tt.payload)
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			var resp map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if resp["error"] == "" {
				t.Error("expected error message")
			}
			if tt.wantKind != "" && resp["kind"] != tt.wantKind {
				t.Errorf("kind = %q, expected %q", resp["kind"], tt.wantKind)
			}
		})
	}
}

func TestHandleOptimizeMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(nil)

	for _, path := range []string{"/api/optimize", "/api/frontier", "/api/plan", "/api/export"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status 405, got %d", path, rr.Code)
		}
	}
}

func TestHandleOptimizeBodyTooLarge(t *testing.T) {
	handler := NewHandler(zap.NewNop(), Options{MaxUploadSize: 32})

	rr := performJSON(t, handler, "/api/optimize", map[string]interface{}{
		"returns":    []float64{0.05, 0.10, 0.07, 0.03},
		"covariance": [][]float64{{0.01, 0, 0, 0}, {0, 0.04, 0, 0}, {0, 0, 0.02, 0}, {0, 0, 0, 0.01}},
		"target":     0.075,
	})
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleFrontier(t *testing.T) {
	handler := newTestHandler(nil)

	rr := performJSON(t, handler, "/api/frontier", map[string]interface{}{
		"assets":     []string{"A", "B", "C"},
		"returns":    []float64{0.03, 0.06, 0.09},
		"covariance": [][]float64{{0.01, 0, 0}, {0, 0.02, 0}, {0, 0, 0.05}},
		"points":     5,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp frontierResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Points) != 5 {
		t.Fatalf("expected 5 points, got %d", len(resp.Points))
	}
	if len(resp.Assets) != 3 {
		t.Errorf("expected 3 assets, got %d", len(resp.Assets))
	}
	if math.Abs(resp.Points[0].Target-0.03) > 1e-12 || math.Abs(resp.Points[4].Target-0.09) > 1e-12 {
		t.Errorf("frontier does not span the achievable range: %g..%g", resp.Points[0].Target, resp.Points[4].Target)
	}
	for i, pt := range resp.Points {
		if pt.Error != "" {
			t.Errorf("point %d failed: %s", i, pt.Error)
		}
		if len(pt.Weights) != 3 {
			t.Errorf("point %d has %d weights", i, len(pt.Weights))
		}
	}
}

func TestHandleFrontierRejectsPointCount(t *testing.T) {
	handler := newTestHandler(nil)

	for _, points := range []int{1, maxFrontierPoints + 1} {
		rr := performJSON(t, handler, "/api/frontier", map[string]interface{}{
			"returns":    []float64{0.03, 0.06},
			"covariance": [][]float64{{0.01, 0}, {0, 0.02}},
			"points":     points,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("points=%d: expected status 400, got %d", points, rr.Code)
		}
	}
}

func TestHandlePlanManualAssets(t *testing.T) {
	handler := newTestHandler(nil)

	rr := performUpload(t, handler, manualPlan, "plan.yaml")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp planResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Summary == nil || len(resp.Summary.Allocations) != 2 {
		t.Fatalf("expected two allocations, got %+v", resp.Summary)
	}
	if math.Abs(resp.Summary.ExpectedReturn-0.07) > 1e-9 {
		t.Errorf("expected return = %g, expected 0.07", resp.Summary.ExpectedReturn)
	}
	// Two assets: budget and target fix the weights.
	if a := testutil.FindAllocation(resp.Summary, "Bonds"); a == nil || math.Abs(a.Weight-0.5) > 1e-9 {
		t.Errorf("unexpected Bonds allocation %+v", a)
	}
	if resp.Observations != 0 {
		t.Errorf("expected no observations for manual assets, got %d", resp.Observations)
	}
	if !strings.Contains(resp.ConfigYAML, "assets:") {
		t.Errorf("expected normalized YAML, got %q", resp.ConfigYAML)
	}
	if _, ok := resp.Config["preferences"]; !ok {
		t.Errorf("expected preferences in config map, got %v", resp.Config)
	}

	var roundTrip map[string]interface{}
	if err := yaml.Unmarshal([]byte(resp.ConfigYAML), &roundTrip); err != nil {
		t.Fatalf("normalized YAML does not parse: %v", err)
	}
}

func TestHandlePlanRiskToleranceWarning(t *testing.T) {
	handler := newTestHandler(nil)
	plan := `
assets:
  - name: Bonds
    expectedReturn: 4
    volatility: 5
  - name: Stocks
    expectedReturn: 10
    volatility: 20
preferences:
  riskTolerance: 1
  desiredReturn: 9
`

	rr := performUpload(t, handler, plan, "plan.yaml")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp planResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Summary == nil {
		t.Fatalf("expected a summary")
	}
	// Bonds 1/6, Stocks 5/6: volatility is about 16.7%.
	if resp.Summary.Volatility < 0.16 {
		t.Errorf("volatility = %g, expected about 0.167", resp.Summary.Volatility)
	}
	found := false
	for _, w := range resp.Summary.Warnings {
		if strings.Contains(w, "exceeds risk tolerance") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a risk tolerance warning, got %v", resp.Summary.Warnings)
	}
}

func TestHandlePlanPricedAssets(t *testing.T) {
	start := datetime.MustParseTime(datetime.DateLayout, "2020-01-01")
	source := staticSource{prices: map[string][]stats.Price{
		"IDX": testutil.SyntheticPrices(7, start, 400, 0.08, 0.18),
	}}
	handler := newTestHandler(source)

	rr := performUpload(t, handler, pricedPlan, "plan.yaml")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp planResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Observations == 0 {
		t.Error("expected observations from priced history")
	}
	if resp.Start == "" || resp.End == "" {
		t.Errorf("expected estimation window, got %q..%q", resp.Start, resp.End)
	}
	if a := testutil.FindAllocation(resp.Summary, "Index"); a == nil {
		t.Fatal("expected Index allocation")
	}
	if math.Abs(resp.Summary.ExpectedReturn-0.08) > 1e-9 {
		t.Errorf("expected return = %g, expected 0.08", resp.Summary.ExpectedReturn)
	}
}

func TestHandlePlanFailures(t *testing.T) {
	tests := []struct {
		name       string
		source     marketdata.Source
		content    string
		wantStatus int
	}{
		{
			name:       "Invalid YAML",
			content:    "assets: [",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Priced assets without a source",
			content:    pricedPlan,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "No history for symbol",
			source:     staticSource{},
			content:    pricedPlan,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "Unreachable desired return",
			content: `
assets:
  - name: Bonds
    expectedReturn: 4
    volatility: 5
  - name: Stocks
    expectedReturn: 10
    volatility: 20
preferences:
  desiredReturn: 12
`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := performUpload(t, newTestHandler(tt.source), tt.content, "plan.yaml")
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandlePlanMissingFile(t *testing.T) {
	handler := newTestHandler(nil)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("other", "value"); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/plan", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestHandlePlanUploadTooLarge(t *testing.T) {
	handler := NewHandler(zap.NewNop(), Options{MaxUploadSize: 64})

	rr := performUpload(t, handler, strings.Repeat("#", 1024), "plan.yaml")
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleConfigExport(t *testing.T) {
	handler := newTestHandler(nil)

	var payload map[string]interface{}
	if err := yaml.Unmarshal([]byte(manualPlan), &payload); err != nil {
		t.Fatalf("failed to decode plan: %v", err)
	}
	payload["output"] = map[string]interface{}{"format": "json"}

	rr := performJSON(t, handler, "/api/export", payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	exported := resp["configYaml"]
	if !strings.HasPrefix(exported, "assets:") {
		t.Errorf("expected assets first, got %q", exported)
	}
	if strings.Index(exported, "preferences:") > strings.Index(exported, "output:") {
		t.Errorf("expected preferences before output, got %q", exported)
	}
}

func TestHandleConfigExportRejectsInvalid(t *testing.T) {
	handler := newTestHandler(nil)

	rr := performJSON(t, handler, "/api/export", map[string]interface{}{
		"assets": []map[string]interface{}{{"symbol": "VTI"}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleVersion(t *testing.T) {
	tests := []struct {
		version  string
		expected string
	}{
		{"1.2.3", "1.2.3"},
		{"  ", "dev"},
	}

	for _, tt := range tests {
		handler := NewHandler(nil, Options{Version: tt.version})
		req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["version"] != tt.expected {
			t.Errorf("version = %q, expected %q", resp["version"], tt.expected)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{fmt.Errorf("solve: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: bad", portfolio.ErrInvalidInput), http.StatusBadRequest},
		{portfolio.ErrTargetUnreachable, http.StatusUnprocessableEntity},
		{portfolio.ErrInfeasible, http.StatusUnprocessableEntity},
		{portfolio.ErrIllConditioned, http.StatusUnprocessableEntity},
		{fmt.Errorf("fetching X: %w", marketdata.ErrNoData), http.StatusUnprocessableEntity},
		{stats.ErrInsufficientHistory, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.expected {
			t.Errorf("statusFor(%v) = %d, expected %d", tt.err, got, tt.expected)
		}
	}
}

func performUpload(t *testing.T, handler http.Handler, content, filename string) *httptest.ResponseRecorder {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write form data: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/plan", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}

func performJSON(t *testing.T, handler http.Handler, path string, payload map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}
