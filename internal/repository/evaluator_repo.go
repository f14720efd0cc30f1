package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"med-eval/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// EvaluatorRepository define el contrato de persistencia para evaluadores.
// Los métodos de lectura devuelven pgx.ErrNoRows cuando el evaluador no existe.
type EvaluatorRepository interface {
	Create(ctx context.Context, evaluator domain.Evaluator) error
	GetByID(ctx context.Context, id string) (domain.Evaluator, error)
	GetByUsername(ctx context.Context, username string) (domain.Evaluator, error)
	UpdateProfile(ctx context.Context, evaluator domain.Evaluator) error
	UpdateCredential(ctx context.Context, id, credentialHash string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]domain.Evaluator, error)
}

// IsUniqueViolation reconoce el error de Postgres por clave duplicada.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsForeignKeyViolation reconoce una referencia a un evaluador inexistente.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// PgEvaluatorRepository implementa EvaluatorRepository usando pgxpool.
type PgEvaluatorRepository struct {
	pool *pgxpool.Pool
}

func NewPgEvaluatorRepository(pool *pgxpool.Pool) *PgEvaluatorRepository {
	return &PgEvaluatorRepository{pool: pool}
}

const evaluatorColumns = `id, username, credential_hash, display_name, role, specialty, experience_years, created_at`

func (r *PgEvaluatorRepository) Create(ctx context.Context, e domain.Evaluator) error {
	const query = `
		INSERT INTO evaluators (` + evaluatorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		e.ID,
		e.Username,
		e.CredentialHash,
		e.DisplayName,
		string(e.Role),
		e.Specialty,
		e.ExperienceYears,
		e.CreatedAt,
	)
	return err
}

func (r *PgEvaluatorRepository) GetByID(ctx context.Context, id string) (domain.Evaluator, error) {
	const query = `SELECT ` + evaluatorColumns + ` FROM evaluators WHERE id = $1`
	return scanEvaluator(r.pool.QueryRow(ctx, query, id))
}

func (r *PgEvaluatorRepository) GetByUsername(ctx context.Context, username string) (domain.Evaluator, error) {
	const query = `SELECT ` + evaluatorColumns + ` FROM evaluators WHERE username = $1`
	return scanEvaluator(r.pool.QueryRow(ctx, query, username))
}

func (r *PgEvaluatorRepository) UpdateProfile(ctx context.Context, e domain.Evaluator) error {
	const query = `
		UPDATE evaluators
		SET display_name = $1, role = $2, specialty = $3, experience_years = $4
		WHERE id = $5
	`
	tag, err := r.pool.Exec(ctx, query,
		e.DisplayName,
		string(e.Role),
		e.Specialty,
		e.ExperienceYears,
		e.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgEvaluatorRepository) UpdateCredential(ctx context.Context, id, credentialHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE evaluators SET credential_hash = $1 WHERE id = $2`, credentialHash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete elimina al evaluador; evaluations y scores caen por ON DELETE CASCADE.
func (r *PgEvaluatorRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM evaluators WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgEvaluatorRepository) List(ctx context.Context) ([]domain.Evaluator, error) {
	const query = `SELECT ` + evaluatorColumns + ` FROM evaluators ORDER BY created_at DESC, id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evaluators []domain.Evaluator
	for rows.Next() {
		e, err := scanEvaluator(rows)
		if err != nil {
			return nil, err
		}
		evaluators = append(evaluators, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return evaluators, nil
}

func scanEvaluator(row pgx.Row) (domain.Evaluator, error) {
	var (
		e    domain.Evaluator
		role string
	)
	err := row.Scan(
		&e.ID,
		&e.Username,
		&e.CredentialHash,
		&e.DisplayName,
		&role,
		&e.Specialty,
		&e.ExperienceYears,
		&e.CreatedAt,
	)
	if err != nil {
		return domain.Evaluator{}, err
	}
	e.Role = domain.Role(role)
	return e, nil
}
