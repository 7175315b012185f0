package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/kirillkom/parish-ocr-validation/internal/config"
	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
	"github.com/kirillkom/parish-ocr-validation/internal/core/ports"
	"github.com/kirillkom/parish-ocr-validation/internal/core/usecase"
	"github.com/kirillkom/parish-ocr-validation/internal/observability/metrics"
)

const maxBodyBytes = 1 << 20

type Router struct {
	cfg        config.Config
	progress   ports.ProgressTracker
	validation *usecase.ValidationService
	metrics    *metrics.HTTPServerMetrics
	logger     *slog.Logger
}

func NewRouter(
	cfg config.Config,
	progress ports.ProgressTracker,
	validation *usecase.ValidationService,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:        cfg,
		progress:   progress,
		validation: validation,
		metrics:    httpMetrics,
		logger:     logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	mux.HandleFunc("GET /v1/progress", rt.listProgress)
	mux.HandleFunc("POST /v1/progress/{documentID}", rt.beginTracking)
	mux.HandleFunc("DELETE /v1/progress/{documentID}", rt.endTracking)

	mux.HandleFunc("GET /v1/institutions", rt.listInstitutions)

	mux.HandleFunc("POST /v1/validation/{documentID}", rt.openSession)
	mux.HandleFunc("GET /v1/validation/{documentID}", rt.getSession)
	mux.HandleFunc("DELETE /v1/validation/{documentID}", rt.closeSession)
	mux.HandleFunc("POST /v1/validation/{documentID}/navigate", rt.navigate)
	mux.HandleFunc("PUT /v1/validation/{documentID}/corrections", rt.recordCorrection)
	mux.HandleFunc("PUT /v1/validation/{documentID}/institution", rt.selectInstitution)
	mux.HandleFunc("PUT /v1/validation/{documentID}/observations", rt.setObservations)
	mux.HandleFunc("POST /v1/validation/{documentID}/submit", rt.submit)
	mux.HandleFunc("POST /v1/validation/{documentID}/duplicate/confirm", rt.confirmDuplicate)
	mux.HandleFunc("POST /v1/validation/{documentID}/duplicate/cancel", rt.cancelDuplicate)

	var h http.Handler = mux
	h = backpressureMiddleware(h, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWait)
	h = rateLimitMiddleware(h, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		h = rt.metrics.Middleware(h)
	}
	h = accessLogMiddleware(rt.logger, h)
	return requestIDMiddleware(h)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listProgress(w http.ResponseWriter, _ *http.Request) {
	snap := rt.progress.Snapshot()
	docs := make([]domain.TrackedDocument, 0, len(snap))
	for _, doc := range snap {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocumentID < docs[j].DocumentID })
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) beginTracking(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("documentID")
	if err := rt.progress.BeginTracking(documentID); err != nil {
		writeError(w, err)
		return
	}
	doc, ok := rt.progress.Snapshot()[strings.TrimSpace(documentID)]
	if !ok {
		// Already finished between the two calls.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) endTracking(w http.ResponseWriter, r *http.Request) {
	rt.progress.EndTracking(r.PathValue("documentID"))
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listInstitutions(w http.ResponseWriter, r *http.Request) {
	list, err := rt.validation.ListInstitutions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"institutions": list})
}

func (rt *Router) openSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReviewerID int64                `json:"reviewer_id"`
		Sacrament  domain.SacramentType `json:"sacrament"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := rt.validation.Open(r.Context(), r.PathValue("documentID"), req.ReviewerID, req.Sacrament)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session.Snapshot())
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (rt *Router) closeSession(w http.ResponseWriter, r *http.Request) {
	rt.validation.Close(r.PathValue("documentID"))
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) navigate(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Delta int `json:"delta"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	view, err := session.Navigate(req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) recordCorrection(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		LocalFieldID string `json:"local_field_id"`
		Value        string `json:"value"`
		Comment      string `json:"comment"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	correction, err := session.RecordCorrection(req.LocalFieldID, req.Value, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"correction": correction,
		"session":    session.Snapshot(),
	})
}

func (rt *Router) selectInstitution(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		InstitutionID int64 `json:"institution_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := session.SelectInstitution(req.InstitutionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (rt *Router) setObservations(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Observations string `json:"observations"`
		EditMode     *bool  `json:"edit_mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := session.SetObservations(req.Observations); err != nil {
		writeError(w, err)
		return
	}
	if req.EditMode != nil {
		if err := session.SetEditMode(*req.EditMode); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (rt *Router) submit(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Action domain.ValidationAction `json:"action"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := session.Submit(submissionContext(r), req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, outcome, session)
}

func (rt *Router) confirmDuplicate(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	outcome, err := session.ConfirmDuplicate(submissionContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, outcome, session)
}

func (rt *Router) cancelDuplicate(w http.ResponseWriter, r *http.Request) {
	session, ok := rt.session(w, r)
	if !ok {
		return
	}
	view, err := session.CancelDuplicate()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) session(w http.ResponseWriter, r *http.Request) (*usecase.ValidationSession, bool) {
	session, err := rt.validation.Session(r.PathValue("documentID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return session, true
}

// submissionContext keeps request values but not cancellation: a tuple
// decision that reached the registry runs to completion or failure even when
// the client goes away.
func submissionContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func writeOutcome(w http.ResponseWriter, outcome domain.SubmitOutcome, session *usecase.ValidationSession) {
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome": outcome,
		"session": session.Snapshot(),
	})
}

// decodeBody reads a JSON body. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
