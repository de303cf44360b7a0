package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	storeerrors "github.com/autosteer/autosteer/internal/errors"
	"github.com/autosteer/autosteer/internal/observability"
	"github.com/autosteer/autosteer/internal/results"
)

// ResultReader is the read side of the result store.
type ResultReader interface {
	MedianRuntimes(ctx context.Context) ([]results.MedianRuntime, error)
	BestAlternativeConfiguration(ctx context.Context, benchmarkFilter string) ([]results.AlternativeConfiguration, error)
	Experience(ctx context.Context, benchmarkFilter string, trainingRatio float64) (*results.ExperienceSplit, error)
	RequiredOptimizers(ctx context.Context, queryPath string) ([]string, error)
	EffectiveOptimizers(ctx context.Context, queryPath string) ([]string, error)
	EffectiveOptimizerDependencies(ctx context.Context, queryPath string) ([]results.OptimizerDependency, error)
	QueryFingerprint(ctx context.Context, queryPath string) (string, bool, error)
}

// Options configures NewHandler.
type Options struct {
	Logger log.Logger

	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Metrics instruments every route; nil disables instrumentation.
	Metrics *observability.HTTPMetrics

	// TrainingRatio is used by /v1/experience when ratio is omitted.
	TrainingRatio float64
}

// OptimizersResponse is the body of GET /v1/optimizers.
type OptimizersResponse struct {
	Path         string                        `json:"path"`
	Fingerprint  string                        `json:"fingerprint,omitempty"`
	Required     []string                      `json:"required"`
	Effective    []string                      `json:"effective"`
	Dependencies []results.OptimizerDependency `json:"dependencies"`
}

type resultsHandler struct {
	reader ResultReader
	logger log.Logger
	ratio  float64
}

// NewHandler builds the read API:
//
//	GET /v1/median-runtimes
//	GET /v1/best-alternatives?benchmark=
//	GET /v1/experience?benchmark=&ratio=
//	GET /v1/optimizers?path=
//	GET /health
//	GET /metrics
func NewHandler(reader ResultReader, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	ratio := opts.TrainingRatio
	if ratio == 0 {
		ratio = results.DefaultTrainingRatio
	}
	h := &resultsHandler{reader: reader, logger: logger, ratio: ratio}

	mux := http.NewServeMux()
	route := func(pattern, name string, fn http.HandlerFunc) {
		var handler http.Handler = fn
		if opts.Metrics != nil {
			handler = opts.Metrics.Middleware(name, handler)
		}
		mux.Handle(pattern, handler)
	}

	route("GET /v1/median-runtimes", "median_runtimes", h.medianRuntimes)
	route("GET /v1/best-alternatives", "best_alternatives", h.bestAlternatives)
	route("GET /v1/experience", "experience", h.experience)
	route("GET /v1/optimizers", "optimizers", h.optimizers)
	route("GET /health", "health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	api := DefaultMiddleware(logger)(mux)
	if opts.Gatherer == nil {
		return api
	}

	root := http.NewServeMux()
	root.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	root.Handle("/", api)
	return root
}

func (h *resultsHandler) medianRuntimes(w http.ResponseWriter, r *http.Request) {
	medians, err := h.reader.MedianRuntimes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if medians == nil {
		medians = []results.MedianRuntime{}
	}
	writeJSON(w, http.StatusOK, medians)
}

func (h *resultsHandler) bestAlternatives(w http.ResponseWriter, r *http.Request) {
	alts, err := h.reader.BestAlternativeConfiguration(r.Context(), r.URL.Query().Get("benchmark"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if alts == nil {
		alts = []results.AlternativeConfiguration{}
	}
	writeJSON(w, http.StatusOK, alts)
}

func (h *resultsHandler) experience(w http.ResponseWriter, r *http.Request) {
	ratio := h.ratio
	if raw := r.URL.Query().Get("ratio"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "ratio must be a number", storeerrors.CodeInvalidRatio, GetRequestID(r.Context()))
			return
		}
		ratio = v
	}

	split, err := h.reader.Experience(r.Context(), r.URL.Query().Get("benchmark"), ratio)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, split)
}

func (h *resultsHandler) optimizers(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required", storeerrors.CodeEmptyName, GetRequestID(r.Context()))
		return
	}

	ctx := r.Context()
	resp := OptimizersResponse{Path: path}
	fingerprint, _, err := h.reader.QueryFingerprint(ctx, path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp.Fingerprint = fingerprint

	if resp.Required, err = h.reader.RequiredOptimizers(ctx, path); err != nil {
		h.fail(w, r, err)
		return
	}
	if resp.Effective, err = h.reader.EffectiveOptimizers(ctx, path); err != nil {
		h.fail(w, r, err)
		return
	}
	if resp.Dependencies, err = h.reader.EffectiveOptimizerDependencies(ctx, path); err != nil {
		h.fail(w, r, err)
		return
	}

	if resp.Required == nil {
		resp.Required = []string{}
	}
	if resp.Effective == nil {
		resp.Effective = []string{}
	}
	if resp.Dependencies == nil {
		resp.Dependencies = []results.OptimizerDependency{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail maps a store error onto an HTTP status.
func (h *resultsHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	requestID := GetRequestID(r.Context())

	status := http.StatusInternalServerError
	switch storeerrors.GetCategory(err) {
	case storeerrors.ErrCategoryValidation:
		status = http.StatusBadRequest
	case storeerrors.ErrCategoryPrerequisite:
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		level.Error(h.logger).Log("msg", "request failed", "path", r.URL.Path, "request_id", requestID, "err", err)
	}

	writeError(w, status, err.Error(), storeerrors.GetCode(err), requestID)
}
