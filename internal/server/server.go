// Package server exposes the optimizer over a small JSON API.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/iwvelando/portfolio-optimizer/internal/allocation"
	"github.com/iwvelando/portfolio-optimizer/internal/config"
	"github.com/iwvelando/portfolio-optimizer/internal/marketdata"
	"github.com/iwvelando/portfolio-optimizer/pkg/constants"
	"github.com/iwvelando/portfolio-optimizer/pkg/optimization"
	"github.com/iwvelando/portfolio-optimizer/pkg/portfolio"
	"github.com/iwvelando/portfolio-optimizer/pkg/stats"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const maxFrontierPoints = 500

// Options configures NewHandler.
type Options struct {
	MaxUploadSize int64
	SolveTimeout  time.Duration
	Version       string
	// Source serves /api/plan uploads with priced assets. It may be nil.
	Source marketdata.Source
}

type handler struct {
	logger        *zap.Logger
	maxUploadSize int64
	solveTimeout  time.Duration
	version       string
	source        marketdata.Source
}

// NewHandler constructs the HTTP handler that serves the optimization API.
func NewHandler(logger *zap.Logger, opts Options) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = constants.DefaultMaxUploadSizeBytes
	}
	if opts.SolveTimeout <= 0 {
		opts.SolveTimeout = constants.DefaultSolveTimeout
	}

	trimmedVersion := strings.TrimSpace(opts.Version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	h := &handler{
		logger:        logger,
		maxUploadSize: opts.MaxUploadSize,
		solveTimeout:  opts.SolveTimeout,
		version:       trimmedVersion,
		source:        opts.Source,
	}

	mux := http.NewServeMux()

	// Single target from explicit statistics
	mux.HandleFunc("/api/optimize", h.handleOptimize)

	// Efficient frontier from explicit statistics
	mux.HandleFunc("/api/frontier", h.handleFrontier)

	// Full plan from an uploaded YAML configuration
	mux.HandleFunc("/api/plan", h.handlePlan)

	// Normalized YAML for a JSON configuration
	mux.HandleFunc("/api/export", h.handleConfigExport)

	mux.HandleFunc("/api/version", h.handleVersion)

	return mux
}

type problemRequest struct {
	Assets     []string          `json:"assets,omitempty"`
	Returns    []float64         `json:"returns"`
	Covariance [][]float64       `json:"covariance"`
	Target     float64           `json:"target"`
	Bounds     []portfolio.Bound `json:"bounds,omitempty"`
	Points     int               `json:"points,omitempty"`
}

func (req problemRequest) problem() portfolio.Problem {
	return portfolio.Problem{
		Returns:    req.Returns,
		Covariance: req.Covariance,
		Target:     req.Target,
		Bounds:     req.Bounds,
	}
}

func (req problemRequest) assets() ([]optimization.Asset, error) {
	if len(req.Assets) == 0 {
		return nil, nil
	}
	if len(req.Assets) != len(req.Returns) {
		return nil, fmt.Errorf("%d asset names for %d returns", len(req.Assets), len(req.Returns))
	}
	assets := make([]optimization.Asset, len(req.Assets))
	for i, name := range req.Assets {
		assets[i] = optimization.Asset{Name: name}
	}
	return assets, nil
}

type optimizeResponse struct {
	Summary  *optimization.Summary `json:"summary"`
	Duration string                `json:"duration"`
}

type frontierResponse struct {
	Assets   []optimization.Asset         `json:"assets,omitempty"`
	Points   []optimization.FrontierPoint `json:"points"`
	Duration string                       `json:"duration"`
}

type planResponse struct {
	Summary      *optimization.Summary  `json:"summary"`
	Observations int                    `json:"observations,omitempty"`
	Start        string                 `json:"start,omitempty"`
	End          string                 `json:"end,omitempty"`
	Duration     string                 `json:"duration"`
	Config       map[string]interface{} `json:"config,omitempty"`
	ConfigYAML   string                 `json:"configYaml,omitempty"`
}

func (h *handler) handleOptimize(w http.ResponseWriter, r *http.Request) {
	op := "server.handleOptimize"
	req, ok := h.decodeProblem(w, r, op)
	if !ok {
		return
	}
	assets, err := req.assets()
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	start := time.Now()
	p := req.problem()
	settings := portfolio.DefaultSettings()

	ctx, cancel := context.WithTimeout(r.Context(), h.solveTimeout)
	defer cancel()

	res, err := allocation.Solve(ctx, p, settings)
	if err != nil {
		h.respondFailure(w, err, op)
		return
	}
	summary, err := allocation.Summarize(assets, p, res, settings)
	if err != nil {
		h.respondFailure(w, err, op)
		return
	}

	elapsed := time.Since(start)
	h.logger.Info("optimization computed",
		zap.String("op", op),
		zap.Int("assets", p.Size()),
		zap.Float64("target", p.Target),
		zap.Int("iterations", res.Iterations),
		zap.Duration("duration", elapsed),
	)
	h.writeJSON(w, http.StatusOK, optimizeResponse{Summary: summary, Duration: elapsed.String()})
}

func (h *handler) handleFrontier(w http.ResponseWriter, r *http.Request) {
	op := "server.handleFrontier"
	req, ok := h.decodeProblem(w, r, op)
	if !ok {
		return
	}
	assets, err := req.assets()
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	points := req.Points
	if points == 0 {
		points = constants.DefaultFrontierPoints
	}
	if points < 2 || points > maxFrontierPoints {
		h.respondErrorWithOp(w, http.StatusBadRequest,
			fmt.Sprintf("points must be between 2 and %d, got %d", maxFrontierPoints, points), op)
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), h.solveTimeout*time.Duration(points))
	defer cancel()

	frontier, err := allocation.Sweep(ctx, req.problem(), portfolio.DefaultSettings(), points, 0)
	if err != nil {
		h.respondFailure(w, err, op)
		return
	}

	elapsed := time.Since(start)
	h.logger.Info("frontier computed",
		zap.String("op", op),
		zap.Int("points", len(frontier)),
		zap.Duration("duration", elapsed),
	)
	h.writeJSON(w, http.StatusOK, frontierResponse{Assets: assets, Points: frontier, Duration: elapsed.String()})
}

func (h *handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	op := "server.handlePlan"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondErrorWithOp(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds limit of %d bytes", h.maxUploadSize), op)
			return
		}
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to parse upload: %v", err), op)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, "missing configuration file", op)
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			h.logger.Warn("failed to close uploaded file",
				zap.String("op", op),
				zap.Error(closeErr),
			)
		}
	}()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		h.respondErrorWithOp(w, http.StatusInternalServerError, fmt.Sprintf("failed to read configuration: %v", err), op)
		return
	}

	cfg, err := config.LoadConfigurationFromReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}
	if len(cfg.PricedAssets()) > 0 && h.source == nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, "market data is not available on this server; give every asset an expectedReturn and volatility", op)
		return
	}
	if cfg.Solver.Timeout > h.solveTimeout {
		cfg.Solver.Timeout = h.solveTimeout
	}

	runner := allocation.NewRunner(h.logger, cfg, h.source)
	in, summary, err := runner.Report(r.Context())
	if err != nil {
		h.respondFailure(w, err, op)
		return
	}

	resp := planResponse{
		Summary:      summary,
		Observations: in.Observations,
		Duration:     time.Since(start).String(),
	}
	if in.Observations > 0 {
		resp.Start = in.Start.Format(constants.DateLayout)
		resp.End = in.End.Format(constants.DateLayout)
	}

	normalized, err := yaml.Marshal(cfg)
	if err != nil {
		h.logger.Warn("failed to marshal normalized configuration",
			zap.String("op", op),
			zap.Error(err),
		)
	} else {
		resp.ConfigYAML = string(normalized)
		if configMap, mapErr := decodeYAMLToMap(normalized); mapErr == nil {
			resp.Config = configMap
		}
	}

	h.logger.Info("plan computed",
		zap.String("op", op),
		zap.Int("assets", len(summary.Allocations)),
		zap.Int("observations", in.Observations),
		zap.String("duration", resp.Duration),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

func (h *handler) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	op := "server.handleConfigExport"
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode configuration: %v", err), op)
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}

	yamlBytes, err := marshalOrderedConfigYAML(payload)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to encode configuration: %v", err), op)
		return
	}
	if _, err := config.LoadConfigurationFromReader(bytes.NewReader(yamlBytes)); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, err.Error(), op)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"configYaml": string(yamlBytes),
	})
}

func (h *handler) decodeProblem(w http.ResponseWriter, r *http.Request, op string) (problemRequest, bool) {
	var req problemRequest
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return req, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondErrorWithOp(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request exceeds limit of %d bytes", h.maxUploadSize), op)
			return req, false
		}
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode problem: %v", err), op)
		return req, false
	}
	return req, true
}

// configKeyOrder is the section order of exported configurations.
var configKeyOrder = []string{"assets", "preferences", "history", "solver", "marketData", "logging", "output"}

func marshalOrderedConfigYAML(payload map[string]interface{}) ([]byte, error) {
	items := make([]orderedItem, 0, len(payload))
	seen := make(map[string]struct{})

	for _, key := range configKeyOrder {
		if value, ok := payload[key]; ok {
			items = append(items, orderedItem{key: key, value: value})
			seen[key] = struct{}{}
		}
	}

	remainingKeys := make([]string, 0, len(payload))
	for key := range payload {
		if _, already := seen[key]; already {
			continue
		}
		remainingKeys = append(remainingKeys, key)
	}
	sort.Strings(remainingKeys)
	for _, key := range remainingKeys {
		items = append(items, orderedItem{key: key, value: payload[key]})
	}

	return yaml.Marshal(orderedConfig{items: items})
}

type orderedConfig struct {
	items []orderedItem
}

type orderedItem struct {
	key   string
	value interface{}
}

func (o orderedConfig) MarshalYAML() (interface{}, error) {
	mapNode := &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  "!!map",
	}

	for _, item := range o.items {
		keyNode := &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: item.key,
		}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(item.value); err != nil {
			return nil, err
		}
		mapNode.Content = append(mapNode.Content, keyNode, valueNode)
	}

	return mapNode, nil
}

func decodeYAMLToMap(data []byte) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return make(map[string]interface{}), nil
	}

	var result map[string]interface{}
	if err := yaml.Unmarshal(trimmed, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = make(map[string]interface{})
	}
	return result, nil
}

// statusFor maps a failure to the HTTP status reported to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, portfolio.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, portfolio.ErrTargetUnreachable),
		errors.Is(err, portfolio.ErrInfeasible),
		errors.Is(err, portfolio.ErrIllConditioned),
		errors.Is(err, marketdata.ErrNoData),
		errors.Is(err, stats.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) respondFailure(w http.ResponseWriter, err error, op string) {
	status := statusFor(err)
	kind := portfolio.Classify(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	case errors.Is(err, marketdata.ErrNoData), errors.Is(err, stats.ErrInsufficientHistory):
		kind = "insufficient_data"
	}
	h.logger.Error("request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("kind", kind),
		zap.Error(err),
	)
	h.writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func (h *handler) respondErrorWithOp(w http.ResponseWriter, status int, msg string, op string) {
	h.logger.Error("request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	)

	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("failed to encode response",
			zap.String("op", "server.writeJSON"),
			zap.Error(err),
		)
	}
}
