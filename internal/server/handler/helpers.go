package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error onto a status code: validation
// failures are 400, missing records 404, unavailable upstream data 503 and a
// held evolution lock 409. Anything else is logged and reported as 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	switch {
	case domain.IsValidation(err):
		var v *domain.ValidationError
		errors.As(err, &v)
		writeError(w, http.StatusBadRequest, v.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrDataUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "already running")
	default:
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return domain.Invalid("body", "malformed JSON: %v", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until take RFC 3339
// timestamps.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, domain.Invalid(name, "must be an RFC 3339 timestamp")
		}
		*dst = &t
	}
	return opts, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// Label canonicalisation. Empty labels are left empty so the services can
// fill them from live data.

func canonDirection(d *domain.Direction) error {
	v, err := domain.ParseDirection(string(*d))
	if err != nil {
		return domain.Invalid("direction", "%v", err)
	}
	*d = v
	return nil
}

func canonAssetClass(c *domain.AssetClass) error {
	if *c == "" {
		return nil
	}
	v, err := domain.ParseAssetClass(string(*c))
	if err != nil {
		return domain.Invalid("asset_class", "%v", err)
	}
	*c = v
	return nil
}

func canonRegime(r *domain.Regime) {
	if *r != "" {
		*r = domain.ParseRegime(string(*r))
	}
}

func canonStrategy(t *domain.StrategyTag) {
	*t = domain.ParseStrategyTag(string(*t))
}

func canonRiskMode(m *domain.RiskMode) error {
	switch v := domain.RiskMode(strings.ToUpper(strings.TrimSpace(string(*m)))); v {
	case "", domain.RiskModeNormal, domain.RiskModeThrottled, domain.RiskModeLocked:
		*m = v
		return nil
	}
	return domain.Invalid("risk_mode", "unknown risk mode %q", *m)
}

// canonIntent canonicalises every label of a trade intent.
func canonIntent(in *domain.TradeIntent) error {
	if in.Symbol == "" {
		return domain.Invalid("symbol", "must not be empty")
	}
	if err := canonDirection(&in.Direction); err != nil {
		return err
	}
	if err := canonAssetClass(&in.AssetClass); err != nil {
		return err
	}
	canonRegime(&in.Regime)
	canonStrategy(&in.StrategyTag)
	if in.TransitionPath != "" {
		in.TransitionPath = domain.NormalizePath(in.TransitionPath)
	}
	for i := range in.OpenPositions {
		p := &in.OpenPositions[i]
		if err := canonDirection(&p.Direction); err != nil {
			return err
		}
		if err := canonAssetClass(&p.AssetClass); err != nil {
			return err
		}
	}
	return nil
}
