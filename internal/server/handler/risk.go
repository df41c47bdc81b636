package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/service"
)

// RiskService defines the methods that the risk handler requires.
type RiskService interface {
	BuildSnapshot(ctx context.Context, req service.SnapshotRequest) (domain.PermissionSnapshot, error)
	BuildExitPlan(ctx context.Context, req service.ExitPlanRequest) (domain.ExitPlan, error)
	Size(req service.SizeRequest) (domain.PositionSizing, error)
	Leverage(ctx context.Context, req service.LeverageRequest) (domain.LeverageResult, error)
	EvaluateCandidate(ctx context.Context, req service.CandidateRequest) (service.CandidateResult, error)
}

// RiskHandler serves the snapshot, exit plan, sizing, leverage and candidate
// endpoints.
type RiskHandler struct {
	risk   RiskService
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(risk RiskService, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{risk: risk, logger: logger}
}

// Snapshot builds a fresh permission snapshot.
// POST /api/risk/snapshot
func (h *RiskHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	var req service.SnapshotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "snapshot", err)
		return
	}
	if err := canonAssetClass(&req.AssetClass); err != nil {
		writeServiceError(w, r, h.logger, "snapshot", err)
		return
	}
	canonRegime(&req.Regime)

	snap, err := h.risk.BuildSnapshot(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ExitPlan builds an exit plan for a proposed entry.
// POST /api/risk/exit-plan
func (h *RiskHandler) ExitPlan(w http.ResponseWriter, r *http.Request) {
	var req service.ExitPlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "exit plan", err)
		return
	}
	if err := canonDirection(&req.Direction); err != nil {
		writeServiceError(w, r, h.logger, "exit plan", err)
		return
	}
	if err := canonAssetClass(&req.AssetClass); err != nil {
		writeServiceError(w, r, h.logger, "exit plan", err)
		return
	}
	canonRegime(&req.Regime)
	canonStrategy(&req.StrategyTag)

	plan, err := h.risk.BuildExitPlan(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "exit plan", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// Size computes a position size under explicit caps.
// POST /api/risk/size
func (h *RiskHandler) Size(w http.ResponseWriter, r *http.Request) {
	var req service.SizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "size", err)
		return
	}
	if err := canonAssetClass(&req.Intent.AssetClass); err != nil {
		writeServiceError(w, r, h.logger, "size", err)
		return
	}

	sizing, err := h.risk.Size(req)
	if err != nil {
		writeServiceError(w, r, h.logger, "size", err)
		return
	}
	writeJSON(w, http.StatusOK, sizing)
}

// Leverage recommends leverage for a candidate.
// POST /api/risk/leverage
func (h *RiskHandler) Leverage(w http.ResponseWriter, r *http.Request) {
	var req service.LeverageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "leverage", err)
		return
	}
	if err := canonAssetClass(&req.AssetClass); err != nil {
		writeServiceError(w, r, h.logger, "leverage", err)
		return
	}
	if err := canonRiskMode(&req.RiskMode); err != nil {
		writeServiceError(w, r, h.logger, "leverage", err)
		return
	}
	canonRegime(&req.Regime)

	res, err := h.risk.Leverage(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "leverage", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Candidate runs the governor on a trade intent. A blocked candidate is a
// normal 200 response with allowed=false.
// POST /api/risk/candidate
func (h *RiskHandler) Candidate(w http.ResponseWriter, r *http.Request) {
	var req service.CandidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "candidate", err)
		return
	}
	if err := canonIntent(&req.Intent); err != nil {
		writeServiceError(w, r, h.logger, "candidate", err)
		return
	}

	res, err := h.risk.EvaluateCandidate(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "candidate", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
