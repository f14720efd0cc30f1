package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"med-eval/internal/domain"
)

// EvaluationRepository persiste los registros por (evaluador, conversación) y sus puntajes.
type EvaluationRepository interface {
	// ReplaceRecord hace upsert del registro y reemplaza todo su conjunto de puntajes de forma atómica.
	ReplaceRecord(ctx context.Context, record domain.EvaluationRecord) (domain.EvaluationRecord, error)
	ListByEvaluator(ctx context.Context, evaluatorID string) ([]domain.EvaluationRecord, error)
	ListAll(ctx context.Context) ([]domain.EvaluationRecord, error)
}

// pgxQuerier es lo que el repositorio usa de *pgxpool.Pool.
type pgxQuerier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PgEvaluationRepository struct {
	db pgxQuerier
}

func NewPgEvaluationRepository(pool *pgxpool.Pool) *PgEvaluationRepository {
	return &PgEvaluationRepository{db: pool}
}

func (r *PgEvaluationRepository) ReplaceRecord(ctx context.Context, record domain.EvaluationRecord) (domain.EvaluationRecord, error) {
	const upsert = `
		INSERT INTO evaluations (id, evaluator_id, conversation_id, comment, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (evaluator_id, conversation_id)
		DO UPDATE SET
			comment = EXCLUDED.comment,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	var comment any
	if record.Comment != "" {
		comment = record.Comment
	}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, upsert,
			record.ID,
			record.EvaluatorID,
			record.ConversationID,
			comment,
			record.UpdatedAt,
		).Scan(&record.ID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM scores WHERE evaluation_id = $1`, record.ID); err != nil {
			return err
		}
		if len(record.Scores) == 0 {
			return nil
		}

		rows := make([][]any, 0, len(record.Scores))
		for _, entry := range record.Entries() {
			rows = append(rows, []any{record.ID, entry.IndicatorKey, entry.Score})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"scores"},
			[]string{"evaluation_id", "indicator_key", "score"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
	if err != nil {
		return domain.EvaluationRecord{}, err
	}
	return record, nil
}

func (r *PgEvaluationRepository) ListByEvaluator(ctx context.Context, evaluatorID string) ([]domain.EvaluationRecord, error) {
	const query = `
		SELECT e.id, e.evaluator_id, e.conversation_id, e.comment, e.updated_at, s.indicator_key, s.score
		FROM evaluations e
		LEFT JOIN scores s ON s.evaluation_id = e.id
		WHERE e.evaluator_id = $1
		ORDER BY e.conversation_id, s.indicator_key
	`
	rows, err := r.db.Query(ctx, query, evaluatorID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (r *PgEvaluationRepository) ListAll(ctx context.Context) ([]domain.EvaluationRecord, error) {
	const query = `
		SELECT e.id, e.evaluator_id, e.conversation_id, e.comment, e.updated_at, s.indicator_key, s.score
		FROM evaluations e
		LEFT JOIN scores s ON s.evaluation_id = e.id
		ORDER BY e.evaluator_id, e.conversation_id, s.indicator_key
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// collectRecords agrupa filas consecutivas del mismo registro (el JOIN devuelve una fila por puntaje).
func collectRecords(rows pgx.Rows) ([]domain.EvaluationRecord, error) {
	defer rows.Close()

	var records []domain.EvaluationRecord
	for rows.Next() {
		var (
			rec     domain.EvaluationRecord
			comment *string
			key     *string
			score   *int
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.EvaluatorID,
			&rec.ConversationID,
			&comment,
			&rec.UpdatedAt,
			&key,
			&score,
		); err != nil {
			return nil, err
		}

		if n := len(records); n == 0 || records[n-1].ID != rec.ID {
			if comment != nil {
				rec.Comment = *comment
			}
			rec.Scores = make(map[string]int)
			records = append(records, rec)
		}
		if key != nil && score != nil {
			records[len(records)-1].Scores[*key] = *score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
