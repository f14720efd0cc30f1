package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"med-eval/internal/domain"
)

type recordKey struct {
	evaluatorID    string
	conversationID int
}

// MemoryStore implementa EvaluatorRepository y EvaluationRepository en memoria.
// Reproduce las restricciones del esquema Postgres (username único, FK con cascada)
// devolviendo los mismos códigos de error.
type MemoryStore struct {
	mu         sync.RWMutex
	evaluators map[string]domain.Evaluator
	usernames  map[string]string
	records    map[recordKey]domain.EvaluationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		evaluators: make(map[string]domain.Evaluator),
		usernames:  make(map[string]string),
		records:    make(map[recordKey]domain.EvaluationRecord),
	}
}

func (s *MemoryStore) Create(_ context.Context, e domain.Evaluator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usernames[e.Username]; exists {
		return &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "evaluators_username_key"}
	}
	if _, exists := s.evaluators[e.ID]; exists {
		return &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "evaluators_pkey"}
	}
	s.evaluators[e.ID] = e
	s.usernames[e.Username] = e.ID
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (domain.Evaluator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.evaluators[id]
	if !ok {
		return domain.Evaluator{}, pgx.ErrNoRows
	}
	return e, nil
}

func (s *MemoryStore) GetByUsername(_ context.Context, username string) (domain.Evaluator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return domain.Evaluator{}, pgx.ErrNoRows
	}
	return s.evaluators[id], nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, e domain.Evaluator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.evaluators[e.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	current.DisplayName = e.DisplayName
	current.Role = e.Role
	current.Specialty = e.Specialty
	current.ExperienceYears = e.ExperienceYears
	s.evaluators[e.ID] = current
	return nil
}

func (s *MemoryStore) UpdateCredential(_ context.Context, id, credentialHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.evaluators[id]
	if !ok {
		return pgx.ErrNoRows
	}
	current.CredentialHash = credentialHash
	s.evaluators[id] = current
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evaluators[id]
	if !ok {
		return pgx.ErrNoRows
	}
	delete(s.evaluators, id)
	delete(s.usernames, e.Username)
	for key := range s.records {
		if key.evaluatorID == id {
			delete(s.records, key)
		}
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Evaluator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Evaluator, 0, len(s.evaluators))
	for _, e := range s.evaluators {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ReplaceRecord sustituye el registro completo bajo el lock de escritura;
// ningún lector observa un conjunto de puntajes a medio escribir.
func (s *MemoryStore) ReplaceRecord(_ context.Context, record domain.EvaluationRecord) (domain.EvaluationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.evaluators[record.EvaluatorID]; !ok {
		return domain.EvaluationRecord{}, &pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: "evaluations_evaluator_id_fkey"}
	}

	key := recordKey{evaluatorID: record.EvaluatorID, conversationID: record.ConversationID}
	if existing, ok := s.records[key]; ok {
		record.ID = existing.ID
	}
	record.Scores = copyScores(record.Scores)
	s.records[key] = record
	return cloneRecord(record), nil
}

func (s *MemoryStore) ListByEvaluator(_ context.Context, evaluatorID string) ([]domain.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EvaluationRecord
	for key, rec := range s.records {
		if key.evaluatorID == evaluatorID {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]domain.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EvaluationRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	sortRecords(out)
	return out, nil
}

// ScoreRowCount cuenta las filas de puntaje almacenadas para un registro.
func (s *MemoryStore) ScoreRowCount(evaluatorID string, conversationID int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[recordKey{evaluatorID: evaluatorID, conversationID: conversationID}].Scores)
}

func sortRecords(records []domain.EvaluationRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].EvaluatorID != records[j].EvaluatorID {
			return records[i].EvaluatorID < records[j].EvaluatorID
		}
		return records[i].ConversationID < records[j].ConversationID
	})
}

func cloneRecord(rec domain.EvaluationRecord) domain.EvaluationRecord {
	rec.Scores = copyScores(rec.Scores)
	return rec
}

func copyScores(scores map[string]int) map[string]int {
	out := make(map[string]int, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	return out
}
