package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"med-eval/internal/domain"
	"med-eval/internal/repository"
	"med-eval/internal/scoring"
)

var (
	ErrEvaluatorNotFound   = errors.New("evaluator not found for merge")
	ErrInvalidConversation = errors.New("invalid conversation id")
	ErrInvalidScoreValue   = scoring.ErrInvalidScoreValue
)

// RecordFailure describe una conversación del lote que no se pudo aplicar.
type RecordFailure struct {
	ConversationID int
	Err            error
}

// MergeResult resume un llamado a MergeProgress.
type MergeResult struct {
	Applied  []int
	Skipped  []int
	Failures []RecordFailure
}

// ProgressStore es la fuente de verdad del progreso de cada evaluador:
// un registro por conversación, reemplazado completo en cada guardado.
type ProgressStore struct {
	logger      *zap.Logger
	schema      *scoring.Schema
	evaluators  repository.EvaluatorRepository
	evaluations repository.EvaluationRepository
	now         func() time.Time
	idGenerator func() string
}

func NewProgressStore(
	logger *zap.Logger,
	schema *scoring.Schema,
	evaluators repository.EvaluatorRepository,
	evaluations repository.EvaluationRepository,
) *ProgressStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schema == nil {
		schema = scoring.Default()
	}
	return &ProgressStore{
		logger:      logger,
		schema:      schema,
		evaluators:  evaluators,
		evaluations: evaluations,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: uuid.NewString,
	}
}

func (s *ProgressStore) Schema() *scoring.Schema {
	return s.schema
}

// MergeProgress aplica un snapshot completo del cliente. Los placeholders vacíos se
// ignoran; cada registro no vacío reemplaza por completo al almacenado. Un registro
// inválido se reporta en Failures sin frenar al resto.
func (s *ProgressStore) MergeProgress(ctx context.Context, evaluatorID string, inputs []domain.ConversationInput) (MergeResult, error) {
	evaluatorID, ok := normalizeEvaluatorID(evaluatorID)
	if !ok {
		return MergeResult{}, ErrEvaluatorNotFound
	}
	if _, err := s.evaluators.GetByID(ctx, evaluatorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MergeResult{}, ErrEvaluatorNotFound
		}
		return MergeResult{}, err
	}

	// Una vez iniciado, el lote no se cancela a mitad de camino.
	writeCtx := context.WithoutCancel(ctx)

	var result MergeResult
	for _, in := range inputs {
		if in.IsEmpty() {
			result.Skipped = append(result.Skipped, in.ConversationID)
			continue
		}
		if err := s.validateInput(in); err != nil {
			result.Failures = append(result.Failures, RecordFailure{ConversationID: in.ConversationID, Err: err})
			continue
		}

		record := domain.EvaluationRecord{
			ID:             s.idGenerator(),
			EvaluatorID:    evaluatorID,
			ConversationID: in.ConversationID,
			Comment:        in.Comment,
			Scores:         in.Scores,
			UpdatedAt:      s.now(),
		}
		if _, err := s.evaluations.ReplaceRecord(writeCtx, record); err != nil {
			if repository.IsForeignKeyViolation(err) {
				err = ErrEvaluatorNotFound
			}
			s.logger.Warn("replace evaluation record failed",
				zap.String("evaluator_id", evaluatorID),
				zap.Int("conversation_id", in.ConversationID),
				zap.Error(err),
			)
			result.Failures = append(result.Failures, RecordFailure{
				ConversationID: in.ConversationID,
				Err:            fmt.Errorf("replace conversation %d: %w", in.ConversationID, err),
			})
			continue
		}
		result.Applied = append(result.Applied, in.ConversationID)
	}

	s.logger.Info("progress merged",
		zap.String("evaluator_id", evaluatorID),
		zap.Int("applied", len(result.Applied)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failures)),
	)
	return result, nil
}

func (s *ProgressStore) validateInput(in domain.ConversationInput) error {
	if !scoring.ValidConversationID(in.ConversationID) {
		return fmt.Errorf("%w: %d", ErrInvalidConversation, in.ConversationID)
	}
	if err := in.ScoreError(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScoreValue, err)
	}
	keys := make([]string, 0, len(in.Scores))
	for k := range in.Scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.schema.ValidateScore(k, in.Scores[k]); err != nil {
			return err
		}
	}
	return nil
}

// GetEvaluatorWithRecords devuelve el perfil con sus registros ordenados por conversación.
func (s *ProgressStore) GetEvaluatorWithRecords(ctx context.Context, evaluatorID string) (domain.EvaluatorWithRecords, error) {
	evaluatorID, ok := normalizeEvaluatorID(evaluatorID)
	if !ok {
		return domain.EvaluatorWithRecords{}, ErrNotFound
	}
	evaluator, err := s.evaluators.GetByID(ctx, evaluatorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EvaluatorWithRecords{}, ErrNotFound
		}
		return domain.EvaluatorWithRecords{}, err
	}
	return s.attachRecords(ctx, evaluator)
}

func (s *ProgressStore) GetEvaluatorWithRecordsByUsername(ctx context.Context, username string) (domain.EvaluatorWithRecords, error) {
	evaluator, err := s.evaluators.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EvaluatorWithRecords{}, ErrNotFound
		}
		return domain.EvaluatorWithRecords{}, err
	}
	return s.attachRecords(ctx, evaluator)
}

func (s *ProgressStore) attachRecords(ctx context.Context, evaluator domain.Evaluator) (domain.EvaluatorWithRecords, error) {
	records, err := s.evaluations.ListByEvaluator(ctx, evaluator.ID)
	if err != nil {
		return domain.EvaluatorWithRecords{}, err
	}
	sortByConversation(records)
	if records == nil {
		records = []domain.EvaluationRecord{}
	}
	return domain.EvaluatorWithRecords{Evaluator: evaluator, Records: records}, nil
}

// ListAllEvaluators devuelve todos los evaluadores (más recientes primero) con sus registros.
func (s *ProgressStore) ListAllEvaluators(ctx context.Context) ([]domain.EvaluatorWithRecords, error) {
	var (
		evaluators []domain.Evaluator
		records    []domain.EvaluationRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		evaluators, err = s.evaluators.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		records, err = s.evaluations.ListAll(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byEvaluator := make(map[string][]domain.EvaluationRecord, len(evaluators))
	for _, rec := range records {
		byEvaluator[rec.EvaluatorID] = append(byEvaluator[rec.EvaluatorID], rec)
	}

	out := make([]domain.EvaluatorWithRecords, 0, len(evaluators))
	for _, ev := range evaluators {
		recs := byEvaluator[ev.ID]
		sortByConversation(recs)
		if recs == nil {
			recs = []domain.EvaluationRecord{}
		}
		out = append(out, domain.EvaluatorWithRecords{Evaluator: ev, Records: recs})
	}
	return out, nil
}

// IsComplete es verdadero si el registro tiene exactamente los indicadores de la rúbrica.
func (s *ProgressStore) IsComplete(record domain.EvaluationRecord) bool {
	return s.schema.IsComplete(record.ScoreKeys())
}

func (s *ProgressStore) CompletionCount(ctx context.Context, evaluatorID string) (int, error) {
	ev, err := s.GetEvaluatorWithRecords(ctx, evaluatorID)
	if err != nil {
		return 0, err
	}
	return s.CompletedCount(ev.Records), nil
}

// SubmissionEligible exige las 50 conversaciones completas.
func (s *ProgressStore) SubmissionEligible(ctx context.Context, evaluatorID string) (bool, error) {
	n, err := s.CompletionCount(ctx, evaluatorID)
	if err != nil {
		return false, err
	}
	return n == scoring.ConversationCount, nil
}

func (s *ProgressStore) ExportSnapshot(ctx context.Context, evaluatorID string) (domain.Snapshot, error) {
	ev, err := s.GetEvaluatorWithRecords(ctx, evaluatorID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return domain.NewSnapshot(ev), nil
}

// CompletedCount cuenta los registros completos de una lista ya leída.
func (s *ProgressStore) CompletedCount(records []domain.EvaluationRecord) int {
	n := 0
	for _, rec := range records {
		if s.IsComplete(rec) {
			n++
		}
	}
	return n
}

func sortByConversation(records []domain.EvaluationRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ConversationID < records[j].ConversationID
	})
}
