package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trace-decoder/pkg/common"
	"github.com/ethpandaops/trace-decoder/pkg/decoder"
	"github.com/ethpandaops/trace-decoder/pkg/source"
	"github.com/ethpandaops/trace-decoder/pkg/trace"
)

// Decoder turns raw trace trees into annotated ones.
type Decoder interface {
	Decode(ctx context.Context, roots []trace.Node) ([]decoder.AnnotatedNode, decoder.Report)
	ContractName(address string) (string, bool)
}

// Enqueuer schedules background address lookups.
type Enqueuer interface {
	Enqueue(ctx context.Context, address string) error
}

type Handler struct {
	log      logrus.FieldLogger
	source   source.Source
	decoder  Decoder
	enqueuer Enqueuer
}

// NewHandler creates the API handler. enqueuer may be nil, in which case the
// prefetch endpoint is not registered.
func NewHandler(log logrus.FieldLogger, src source.Source, dec Decoder, enqueuer Enqueuer) *Handler {
	return &Handler{
		log:      log.WithField("component", "api"),
		source:   src,
		decoder:  dec,
		enqueuer: enqueuer,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.status)
	mux.HandleFunc("GET /tx/{$}", h.missingTxHash)
	mux.HandleFunc("GET /tx/{txHash}", h.decodeTx)
	mux.HandleFunc("GET /tx/{txHash}/{$}", h.decodeTx)
	mux.HandleFunc("GET /names/{address}", h.contractName)

	if h.enqueuer != nil {
		mux.HandleFunc("POST /api/v1/prefetch/{address}", h.prefetch)
	}
}

// Routes returns the API routes wrapped in the request logging middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	h.RegisterRoutes(mux)

	return h.middleware(mux)
}

type StatusResponse struct {
	Status string `json:"status"`
}

type TracesResponse struct {
	Success bool                    `json:"success"`
	Traces  []decoder.AnnotatedNode `json:"traces"`
}

type NameResponse struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type PrefetchResponse struct {
	Status  string `json:"status"`
	Address string `json:"address"`
}

// Error categories reported in ErrorResponse.Error.
const (
	ErrorInput    = "input"
	ErrorUpstream = "upstream"
	ErrorNotFound = "not_found"
	ErrorInternal = "internal"
)

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *Handler) missingTxHash(w http.ResponseWriter, _ *http.Request) {
	common.TracesDecoded.WithLabelValues("input_error").Inc()

	h.writeError(w, http.StatusBadRequest, ErrorInput, "no tx hash provided")
}

func (h *Handler) decodeTx(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("txHash")
	if raw == "" {
		h.missingTxHash(w, r)

		return
	}

	txHash, err := source.ParseTxHash(raw)
	if err != nil {
		common.TracesDecoded.WithLabelValues("input_error").Inc()

		h.writeError(w, http.StatusBadRequest, ErrorInput, err.Error())

		return
	}

	ctx := r.Context()

	roots, err := h.source.Traces(ctx, txHash)
	if err != nil {
		h.writeSourceError(w, txHash, err)

		return
	}

	annotated, report := h.decoder.Decode(ctx, roots)

	common.TracesDecoded.WithLabelValues("success").Inc()

	h.log.WithFields(report.Fields()).WithField("tx_hash", txHash.Hex()).Info("Decoded transaction")

	h.writeJSON(w, http.StatusOK, TracesResponse{Success: true, Traces: annotated})
}

func (h *Handler) writeSourceError(w http.ResponseWriter, txHash ethcommon.Hash, err error) {
	var failure *source.UpstreamFailure

	switch {
	case errors.Is(err, source.ErrInvalidTxHash):
		common.TracesDecoded.WithLabelValues("input_error").Inc()

		h.writeError(w, http.StatusBadRequest, ErrorInput, err.Error())
	case errors.As(err, &failure):
		common.TracesDecoded.WithLabelValues("upstream_error").Inc()

		h.log.WithField("tx_hash", txHash.Hex()).WithField("reason", failure.Reason).Debug("Trace source refused request")
		h.writeError(w, http.StatusBadGateway, ErrorUpstream, failure.Reason)
	case errors.Is(err, source.ErrUpstreamUnavailable):
		common.TracesDecoded.WithLabelValues("upstream_error").Inc()

		h.log.WithError(err).WithField("tx_hash", txHash.Hex()).Warn("Trace source unavailable")
		h.writeError(w, http.StatusBadGateway, ErrorUpstream, "trace source unavailable")
	default:
		common.TracesDecoded.WithLabelValues("error").Inc()

		h.log.WithError(err).WithField("tx_hash", txHash.Hex()).Error("Failed to fetch traces")
		h.writeError(w, http.StatusInternalServerError, ErrorInternal, "internal error")
	}
}

func (h *Handler) contractName(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if !ethcommon.IsHexAddress(address) {
		h.writeError(w, http.StatusBadRequest, ErrorInput, "invalid address")

		return
	}

	name, ok := h.decoder.ContractName(address)
	if !ok {
		h.writeError(w, http.StatusNotFound, ErrorNotFound, "no name known for address")

		return
	}

	h.writeJSON(w, http.StatusOK, NameResponse{Address: address, Name: name})
}

func (h *Handler) prefetch(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if !ethcommon.IsHexAddress(address) {
		h.writeError(w, http.StatusBadRequest, ErrorInput, "invalid address")

		return
	}

	if err := h.enqueuer.Enqueue(r.Context(), address); err != nil {
		h.log.WithError(err).WithField("address", address).Error("Failed to enqueue prefetch")
		h.writeError(w, http.StatusInternalServerError, ErrorInternal, "failed to enqueue prefetch")

		return
	}

	h.writeJSON(w, http.StatusAccepted, PrefetchResponse{Status: "queued", Address: address})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithError(err).Error("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, category, message string) {
	h.writeJSON(w, status, ErrorResponse{Success: false, Error: category, Message: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (h *Handler) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		common.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()

		h.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("Handled request")
	})
}
