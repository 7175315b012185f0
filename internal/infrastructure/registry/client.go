package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
	"github.com/kirillkom/parish-ocr-validation/internal/infrastructure/resilience"
)

// Client talks to the registry back-end that owns OCR jobs, tuples, persons
// and institutions.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Token              string
	Timeout            time.Duration
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      options.Token,
		httpClient: httpClient,
		executor:   options.ResilienceExecutor,
	}
}

type progressResponse struct {
	State    string  `json:"estado"`
	Progress float64 `json:"progreso"`
	Message  string  `json:"mensaje"`
	Stage    string  `json:"etapa"`
}

func (c *Client) FetchProgress(ctx context.Context, documentID string) (domain.ProgressReport, error) {
	path := "/api/v1/ocr/progreso/" + url.PathEscape(documentID)
	resp, err := resilience.Do(ctx, c.executor, "registry.progress", func(callCtx context.Context) (progressResponse, error) {
		var out progressResponse
		err := c.getJSON(callCtx, path, nil, &out, "progress")
		return out, err
	}, classifyRegistryError)
	if err != nil {
		return domain.ProgressReport{}, mapReadError("fetch progress", err)
	}

	state, ok := parseProgressState(resp.State)
	if !ok {
		return domain.ProgressReport{}, fmt.Errorf("fetch progress: unknown state %q", resp.State)
	}
	return domain.ProgressReport{
		State:           state,
		ProgressPercent: int(resp.Progress + 0.5),
		Message:         resp.Message,
		Stage:           resp.Stage,
	}, nil
}

// parseProgressState accepts both the Spanish states emitted by the OCR
// pipeline and the canonical English names.
func parseProgressState(raw string) (domain.ProgressState, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "iniciando", "pendiente", string(domain.ProgressInitiating):
		return domain.ProgressInitiating, true
	case "descargando", string(domain.ProgressDownloading):
		return domain.ProgressDownloading, true
	case "guardando", string(domain.ProgressSaving):
		return domain.ProgressSaving, true
	case "procesando", "procesando_ocr", "ocr", string(domain.ProgressOCRRunning):
		return domain.ProgressOCRRunning, true
	case "completado", "finalizado", string(domain.ProgressCompleted):
		return domain.ProgressCompleted, true
	case "error", "fallido":
		return domain.ProgressError, true
	default:
		return "", false
	}
}

type tupleResponse struct {
	TupleID     int64           `json:"tupla_id"`
	TupleNumber int             `json:"numero_tupla"`
	TotalTuples int             `json:"total_tuplas"`
	Fields      []fieldResponse `json:"campos"`
}

type fieldResponse struct {
	Key        string  `json:"clave"`
	Value      string  `json:"valor"`
	Confidence float64 `json:"confianza"`
}

// PendingTuples returns the tuples still awaiting validation. A 404 means the
// document has none left.
func (c *Client) PendingTuples(ctx context.Context, documentID string) ([]domain.OcrTuple, error) {
	path := "/api/v1/ocr/documentos/" + url.PathEscape(documentID) + "/tuplas-pendientes"
	resp, err := resilience.Do(ctx, c.executor, "registry.pending_tuples", func(callCtx context.Context) ([]tupleResponse, error) {
		var out []tupleResponse
		err := c.getJSON(callCtx, path, nil, &out, "pending tuples")
		return out, err
	}, classifyRegistryError)
	if err != nil {
		mapped := mapReadError("fetch pending tuples", err)
		if domain.IsKind(mapped, domain.ErrNotFound) {
			return []domain.OcrTuple{}, nil
		}
		return nil, mapped
	}

	tuples := make([]domain.OcrTuple, 0, len(resp))
	for _, t := range resp {
		fields := make([]domain.OcrField, 0, len(t.Fields))
		for _, f := range t.Fields {
			fields = append(fields, domain.OcrField{
				RawFieldKey:    f.Key,
				ExtractedValue: f.Value,
				Confidence:     f.Confidence,
			})
		}
		tuples = append(tuples, domain.OcrTuple{
			TupleID:               t.TupleID,
			TupleNumber:           t.TupleNumber,
			TotalTuplesInDocument: t.TotalTuples,
			Fields:                fields,
		})
	}
	return tuples, nil
}

func (c *Client) ListInstitutions(ctx context.Context) ([]domain.Institution, error) {
	list, err := resilience.Do(ctx, c.executor, "registry.institutions", func(callCtx context.Context) ([]domain.Institution, error) {
		var out []domain.Institution
		err := c.getJSON(callCtx, "/api/v1/instituciones", nil, &out, "institutions")
		return out, err
	}, classifyRegistryError)
	if err != nil {
		return nil, mapReadError("list institutions", err)
	}
	if list == nil {
		list = []domain.Institution{}
	}
	return list, nil
}

func (c *Client) FindPersons(ctx context.Context, query domain.PersonQuery) ([]domain.CandidatePerson, error) {
	params := url.Values{}
	params.Set("nombres", query.Name.GivenNames)
	params.Set("apellido_paterno", query.Name.PaternalSurname)
	if query.Name.MaternalSurname != "" {
		params.Set("apellido_materno", query.Name.MaternalSurname)
	}
	params.Set("fecha_nacimiento", query.BirthDate)
	params.Set("fecha_sacramento", query.SacramentDate)
	params.Set("tipo_sacramento", string(query.Sacrament))

	persons, err := resilience.Do(ctx, c.executor, "registry.person_search", func(callCtx context.Context) ([]domain.CandidatePerson, error) {
		var out []domain.CandidatePerson
		err := c.getJSON(callCtx, "/api/v1/personas/buscar", params, &out, "person search")
		return out, err
	}, classifyRegistryError)
	if err != nil {
		mapped := mapReadError("find persons", err)
		if domain.IsKind(mapped, domain.ErrNotFound) {
			return []domain.CandidatePerson{}, nil
		}
		return nil, mapped
	}
	return persons, nil
}

// ValidateTuple submits a decision once. Submissions are not idempotent on
// the server, so they bypass the retry executor.
func (c *Client) ValidateTuple(ctx context.Context, decision domain.ValidationDecision) (domain.ValidationResult, error) {
	if decision.ValidatedData == nil {
		decision.ValidatedData = map[string]string{}
	}

	var result domain.ValidationResult
	err := c.postJSON(ctx, "/api/v1/ocr/validar-tupla", decision, &result, "validate tuple")
	if err == nil {
		return result, nil
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return domain.ValidationResult{}, &domain.SubmissionError{Detail: detailOf(statusErr.Body), Err: err}
	}
	return domain.ValidationResult{}, &domain.SubmissionError{Err: err}
}
