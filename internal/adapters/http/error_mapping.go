package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrValidation):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrBusy):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrSubmission):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var subErr *domain.SubmissionError
	if errors.As(err, &subErr) && subErr.Detail != "" {
		resp.Detail = subErr.Detail
	}
	writeJSON(w, mapErrorToHTTPStatus(err), resp)
}
