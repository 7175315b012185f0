package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
)

// PersonRepository reads the registry person table directly, for deployments
// that point this service at a registry read replica.
type PersonRepository struct {
	db *sql.DB
}

func NewPersonRepository(db *sql.DB) *PersonRepository {
	return &PersonRepository{db: db}
}

// FindPersons narrows by name and birth date in SQL. Sacrament date matching
// is left to the resolver, which knows which column applies.
func (r *PersonRepository) FindPersons(ctx context.Context, query domain.PersonQuery) ([]domain.CandidatePerson, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, nombres, apellido_paterno, COALESCE(apellido_materno, ''),
	COALESCE(to_char(fecha_nacimiento, 'YYYY-MM-DD'), ''),
	COALESCE(to_char(fecha_bautizo, 'YYYY-MM-DD'), ''),
	COALESCE(to_char(fecha_confirmacion, 'YYYY-MM-DD'), '')
FROM personas
WHERE lower(nombres) = lower($1)
	AND lower(apellido_paterno) = lower($2)
	AND ($3 = '' OR lower(COALESCE(apellido_materno, '')) = lower($3))
	AND fecha_nacimiento = $4::date
ORDER BY id
LIMIT 50
`,
		strings.TrimSpace(query.Name.GivenNames),
		strings.TrimSpace(query.Name.PaternalSurname),
		strings.TrimSpace(query.Name.MaternalSurname),
		query.BirthDate,
	)
	if err != nil {
		return nil, fmt.Errorf("find persons: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CandidatePerson, 0)
	for rows.Next() {
		var p domain.CandidatePerson
		if err := rows.Scan(&p.ID, &p.GivenNames, &p.PaternalSurname, &p.MaternalSurname, &p.BirthDate, &p.BaptismDate, &p.ConfirmationDate); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return out, nil
}
