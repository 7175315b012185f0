package domain

import (
	"fmt"
	"time"
)

type ValidationAction string

const (
	ActionApprove ValidationAction = "approve"
	ActionCorrect ValidationAction = "correct"
	ActionReject  ValidationAction = "reject"
)

func (a ValidationAction) Valid() bool {
	switch a {
	case ActionApprove, ActionCorrect, ActionReject:
		return true
	default:
		return false
	}
}

type SacramentType string

const (
	SacramentBaptism      SacramentType = "baptism"
	SacramentConfirmation SacramentType = "confirmation"
	SacramentMarriage     SacramentType = "marriage"
	SacramentDeath        SacramentType = "death"
)

func (s SacramentType) Valid() bool {
	switch s {
	case SacramentBaptism, SacramentConfirmation, SacramentMarriage, SacramentDeath:
		return true
	default:
		return false
	}
}

type OcrField struct {
	LocalFieldID   string  `json:"local_field_id"`
	RawFieldKey    string  `json:"raw_field_key"`
	SemanticName   string  `json:"semantic_name"`
	ExtractedValue string  `json:"extracted_value"`
	Confidence     float64 `json:"confidence"`
}

type OcrTuple struct {
	TupleID               int64      `json:"tuple_id"`
	TupleNumber           int        `json:"tuple_number"`
	TotalTuplesInDocument int        `json:"total_tuples_in_document"`
	Fields                []OcrField `json:"fields"`
}

// LocalFieldID builds the session-unique key for a field. Raw keys repeat
// across tuples, so the tuple id and position are part of the identity.
func LocalFieldID(tupleID int64, rawFieldKey string, position int) string {
	return fmt.Sprintf("%d:%s:%d", tupleID, rawFieldKey, position)
}

type Correction struct {
	LocalFieldID   string    `json:"local_field_id"`
	OriginalValue  string    `json:"original_value"`
	CorrectedValue string    `json:"corrected_value"`
	Comment        string    `json:"comment,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

type ValidationDecision struct {
	DocumentID       string            `json:"documento_id"`
	TupleNumber      int               `json:"numero_tupla"`
	TupleID          int64             `json:"tupla_id"`
	ReviewerID       int64             `json:"usuario_id"`
	InstitutionID    *int64            `json:"institucion_id"`
	ValidatedData    map[string]string `json:"datos_validados"`
	Observations     string            `json:"observaciones"`
	Action           ValidationAction  `json:"accion"`
	ExistingPersonID *int64            `json:"persona_existente_id,omitempty"`
}

// ValidationResult is the authoritative answer of the validation endpoint.
type ValidationResult struct {
	Status          string `json:"estado"`
	PersonID        *int64 `json:"persona_id"`
	SacramentID     *int64 `json:"sacramento_id"`
	TotalTuples     int    `json:"total_tuplas"`
	ValidatedTuples int    `json:"tuplas_validadas"`
	PendingTuples   int    `json:"tuplas_pendientes"`
	NextTupleNumber *int   `json:"siguiente_tupla"`
	Completed       bool   `json:"completado"`
}

type CandidatePerson struct {
	ID               int64  `json:"id"`
	GivenNames       string `json:"nombres"`
	PaternalSurname  string `json:"apellido_paterno"`
	MaternalSurname  string `json:"apellido_materno"`
	BirthDate        string `json:"fecha_nacimiento"`
	BaptismDate      string `json:"fecha_bautizo"`
	ConfirmationDate string `json:"fecha_confirmacion"`
}

// SacramentDate returns the candidate date comparable with a tuple's
// sacrament date for the given register type.
func (p CandidatePerson) SacramentDate(t SacramentType) string {
	if t == SacramentConfirmation {
		return p.ConfirmationDate
	}
	return p.BaptismDate
}

type Institution struct {
	ID   int64  `json:"id"`
	Name string `json:"nombre"`
}

type PersonQuery struct {
	Name          PersonName
	BirthDate     string
	SacramentDate string
	Sacrament     SacramentType
}

// TupleValidatedEvent is published on the bus after the server accepted a
// decision.
type TupleValidatedEvent struct {
	EventID     string             `json:"event_id"`
	Decision    ValidationDecision `json:"decision"`
	Result      ValidationResult   `json:"result"`
	ValidatedAt time.Time          `json:"validated_at"`
}
