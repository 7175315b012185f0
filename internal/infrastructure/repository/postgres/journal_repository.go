package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
)

// JournalRepository is the append-only log of decisions the registry accepted.
type JournalRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewJournalRepository(db *sql.DB) *JournalRepository {
	return &JournalRepository{db: db, now: time.Now}
}

// Append stores an event once. Redelivered events are ignored.
func (r *JournalRepository) Append(ctx context.Context, event domain.TupleValidatedEvent) error {
	data := event.Decision.ValidatedData
	if data == nil {
		data = map[string]string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal validated data: %w", err)
	}

	d := event.Decision
	_, err = r.db.ExecContext(ctx, `
INSERT INTO validation_journal (
	event_id, document_id, tuple_id, tuple_number, reviewer_id, institution_id, action,
	existing_person_id, person_id, sacrament_id, validated_data, observations, completed, validated_at, recorded_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (event_id) DO NOTHING
`,
		event.EventID, d.DocumentID, d.TupleID, d.TupleNumber, d.ReviewerID, d.InstitutionID, string(d.Action),
		d.ExistingPersonID, event.Result.PersonID, event.Result.SacramentID, dataJSON, d.Observations,
		event.Result.Completed, event.ValidatedAt, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

func (r *JournalRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM validation_journal
WHERE document_id = $1
`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}
