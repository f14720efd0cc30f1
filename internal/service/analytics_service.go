package service

import (
	"context"

	"go.uber.org/zap"

	"med-eval/internal/domain"
	"med-eval/internal/scoring"
)

// EvaluatorLister es la única lectura que necesita el agregador.
type EvaluatorLister interface {
	ListAllEvaluators(ctx context.Context) ([]domain.EvaluatorWithRecords, error)
}

type IndicatorAverage struct {
	Average     float64 `json:"average"`
	SampleCount int     `json:"sample_count"`
}

type OverviewStats struct {
	TotalEvaluators           int     `json:"total_evaluators"`
	TotalEvaluationRecords    int     `json:"total_evaluation_records"`
	AvgRecordsPerEvaluator    float64 `json:"avg_records_per_evaluator"`
	FullCompletionRatePercent float64 `json:"full_completion_rate_percent"`
}

type CategoryAverage struct {
	Category    string  `json:"category"`
	Average     float64 `json:"average"`
	SampleCount int     `json:"sample_count"`
}

type EvaluatorSummary struct {
	EvaluatorID                string      `json:"evaluator_id"`
	Username                   string      `json:"username"`
	DisplayName                string      `json:"display_name"`
	Role                       domain.Role `json:"role"`
	RecordCount                int         `json:"record_count"`
	CompletedConversationCount int         `json:"completed_conversation_count"`
	SubmissionEligible         bool        `json:"submission_eligible"`
}

type Dashboard struct {
	Overview   OverviewStats               `json:"overview"`
	Indicators map[string]IndicatorAverage `json:"indicators"`
	Categories []CategoryAverage           `json:"categories"`
	Evaluators []EvaluatorSummary          `json:"evaluators"`
}

// AnalyticsService calcula agregados de solo lectura sobre el progreso almacenado.
// Todos los registros cuentan, estén completos o no.
type AnalyticsService struct {
	logger *zap.Logger
	schema *scoring.Schema
	lister EvaluatorLister
}

func NewAnalyticsService(logger *zap.Logger, schema *scoring.Schema, lister EvaluatorLister) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schema == nil {
		schema = scoring.Default()
	}
	return &AnalyticsService{logger: logger, schema: schema, lister: lister}
}

func (s *AnalyticsService) PerIndicatorAverage(ctx context.Context) (map[string]IndicatorAverage, error) {
	all, err := s.lister.ListAllEvaluators(ctx)
	if err != nil {
		return nil, err
	}
	return s.perIndicator(all), nil
}

func (s *AnalyticsService) OverviewStats(ctx context.Context) (OverviewStats, error) {
	all, err := s.lister.ListAllEvaluators(ctx)
	if err != nil {
		return OverviewStats{}, err
	}
	return s.overview(all), nil
}

func (s *AnalyticsService) CategoryAverages(ctx context.Context) ([]CategoryAverage, error) {
	all, err := s.lister.ListAllEvaluators(ctx)
	if err != nil {
		return nil, err
	}
	return s.categories(all), nil
}

func (s *AnalyticsService) EvaluatorSummaries(ctx context.Context) ([]EvaluatorSummary, error) {
	all, err := s.lister.ListAllEvaluators(ctx)
	if err != nil {
		return nil, err
	}
	return s.summaries(all), nil
}

// Dashboard arma todas las vistas a partir de una sola lectura del store.
func (s *AnalyticsService) Dashboard(ctx context.Context) (Dashboard, error) {
	all, err := s.lister.ListAllEvaluators(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	s.logger.Debug("dashboard computed", zap.Int("evaluators", len(all)))
	return Dashboard{
		Overview:   s.overview(all),
		Indicators: s.perIndicator(all),
		Categories: s.categories(all),
		Evaluators: s.summaries(all),
	}, nil
}

type scoreSum struct {
	sum   int
	count int
}

func (a scoreSum) average() float64 {
	if a.count == 0 {
		return 0
	}
	return float64(a.sum) / float64(a.count)
}

func (s *AnalyticsService) sums(all []domain.EvaluatorWithRecords) map[string]scoreSum {
	sums := make(map[string]scoreSum, s.schema.Len())
	for _, ev := range all {
		for _, rec := range ev.Records {
			for key, score := range rec.Scores {
				if !s.schema.Has(key) {
					continue
				}
				acc := sums[key]
				acc.sum += score
				acc.count++
				sums[key] = acc
			}
		}
	}
	return sums
}

func (s *AnalyticsService) perIndicator(all []domain.EvaluatorWithRecords) map[string]IndicatorAverage {
	sums := s.sums(all)
	out := make(map[string]IndicatorAverage, s.schema.Len())
	for _, key := range s.schema.Keys() {
		acc := sums[key]
		out[key] = IndicatorAverage{Average: acc.average(), SampleCount: acc.count}
	}
	return out
}

func (s *AnalyticsService) overview(all []domain.EvaluatorWithRecords) OverviewStats {
	stats := OverviewStats{TotalEvaluators: len(all)}
	complete := 0
	for _, ev := range all {
		stats.TotalEvaluationRecords += len(ev.Records)
		if s.completed(ev.Records) == scoring.ConversationCount {
			complete++
		}
	}
	if stats.TotalEvaluators == 0 {
		return stats
	}
	stats.AvgRecordsPerEvaluator = float64(stats.TotalEvaluationRecords) / float64(stats.TotalEvaluators)
	stats.FullCompletionRatePercent = 100 * float64(complete) / float64(stats.TotalEvaluators)
	return stats
}

func (s *AnalyticsService) categories(all []domain.EvaluatorWithRecords) []CategoryAverage {
	sums := s.sums(all)
	out := make([]CategoryAverage, 0, len(s.schema.Categories()))
	for _, cat := range s.schema.Categories() {
		var acc scoreSum
		for _, ind := range cat.Indicators {
			acc.sum += sums[ind.Key].sum
			acc.count += sums[ind.Key].count
		}
		out = append(out, CategoryAverage{Category: cat.Name, Average: acc.average(), SampleCount: acc.count})
	}
	return out
}

func (s *AnalyticsService) summaries(all []domain.EvaluatorWithRecords) []EvaluatorSummary {
	out := make([]EvaluatorSummary, 0, len(all))
	for _, ev := range all {
		done := s.completed(ev.Records)
		out = append(out, EvaluatorSummary{
			EvaluatorID:                ev.Evaluator.ID,
			Username:                   ev.Evaluator.Username,
			DisplayName:                ev.Evaluator.DisplayName,
			Role:                       ev.Evaluator.Role,
			RecordCount:                len(ev.Records),
			CompletedConversationCount: done,
			SubmissionEligible:         done == scoring.ConversationCount,
		})
	}
	return out
}

func (s *AnalyticsService) completed(records []domain.EvaluationRecord) int {
	n := 0
	for _, rec := range records {
		if s.schema.IsComplete(rec.ScoreKeys()) {
			n++
		}
	}
	return n
}
