package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/service"
)

// EvolutionService defines the methods that the evolution handler requires.
type EvolutionService interface {
	Run(ctx context.Context, cadence domain.Cadence) (service.RunReport, error)
	RunGroup(ctx context.Context, group string, cadence domain.Cadence) (domain.EvolutionCycleOutput, error)
	Latest(ctx context.Context, group string) (domain.EvolutionCycleOutput, error)
	History(ctx context.Context, group string, opts domain.ListOpts) ([]domain.EvolutionCycleOutput, error)
	Parameters(group string) (domain.ParameterSet, bool)
}

// EvolutionHandler serves calibration runs, cycle history and the live
// parameter sets.
type EvolutionHandler struct {
	evolution EvolutionService
	logger    *slog.Logger
}

// NewEvolutionHandler creates an EvolutionHandler.
func NewEvolutionHandler(evolution EvolutionService, logger *slog.Logger) *EvolutionHandler {
	return &EvolutionHandler{evolution: evolution, logger: logger}
}

type runRequest struct {
	Cadence string `json:"cadence"`
	Group   string `json:"group,omitempty"`
}

// Run executes a calibration cycle for one group, or for every group when
// none is named. The request blocks until the cycle completes.
// POST /api/evolution/run
func (h *EvolutionHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "evolution run", err)
		return
	}
	cadence, err := domain.ParseCadence(req.Cadence)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "handler: evolution run requested",
		slog.String("cadence", string(cadence)),
		slog.String("group", req.Group),
	)
	if req.Group != "" {
		out, err := h.evolution.RunGroup(r.Context(), req.Group, cadence)
		if err != nil {
			writeServiceError(w, r, h.logger, "evolution run", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	report, err := h.evolution.Run(r.Context(), cadence)
	if err != nil {
		writeServiceError(w, r, h.logger, "evolution run", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Latest returns the latest applied cycle output of a group.
// GET /api/evolution/{group}/latest
func (h *EvolutionHandler) Latest(w http.ResponseWriter, r *http.Request) {
	out, err := h.evolution.Latest(r.Context(), pathParam(r, "group"))
	if err != nil {
		writeServiceError(w, r, h.logger, "evolution latest", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type historyResponse struct {
	Cycles []domain.EvolutionCycleOutput `json:"cycles"`
}

// History lists the stored cycle outputs of a group, newest first.
// GET /api/evolution/{group}/history?limit=&offset=&since=&until=
func (h *EvolutionHandler) History(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "evolution history", err)
		return
	}
	cycles, err := h.evolution.History(r.Context(), pathParam(r, "group"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "evolution history", err)
		return
	}
	if cycles == nil {
		cycles = []domain.EvolutionCycleOutput{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Cycles: cycles})
}

type paramsResponse struct {
	Parameters domain.ParameterSet `json:"parameters"`
	Calibrated bool                `json:"calibrated"`
}

// Params returns the live parameter set of a group. Uncalibrated groups get
// the defaults with calibrated=false.
// GET /api/params/{group}
func (h *EvolutionHandler) Params(w http.ResponseWriter, r *http.Request) {
	p, ok := h.evolution.Parameters(pathParam(r, "group"))
	writeJSON(w, http.StatusOK, paramsResponse{Parameters: p, Calibrated: ok})
}
