package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedScore indica un puntaje que no es un entero.
var ErrMalformedScore = errors.New("score is not an integer")

// EvaluationRecord agrupa los puntajes y el comentario de un evaluador para una conversación.
// Existe a lo sumo uno por (EvaluatorID, ConversationID).
type EvaluationRecord struct {
	ID             string         `json:"id"`
	EvaluatorID    string         `json:"evaluator_id"`
	ConversationID int            `json:"conversation_id"`
	Comment        string         `json:"comment"`
	Scores         map[string]int `json:"scores"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ScoreEntry es una fila hija de EvaluationRecord.
type ScoreEntry struct {
	IndicatorKey string `json:"indicator_key"`
	Score        int    `json:"score"`
}

// ScoreKeys devuelve las claves puntuadas, ordenadas.
func (r EvaluationRecord) ScoreKeys() []string {
	keys := make([]string, 0, len(r.Scores))
	for k := range r.Scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries expande el mapa de puntajes en filas ordenadas por clave.
func (r EvaluationRecord) Entries() []ScoreEntry {
	entries := make([]ScoreEntry, 0, len(r.Scores))
	for _, k := range r.ScoreKeys() {
		entries = append(entries, ScoreEntry{IndicatorKey: k, Score: r.Scores[k]})
	}
	return entries
}

// ConversationInput es el formato externo de una conversación en un snapshot del cliente.
type ConversationInput struct {
	ConversationID int            `json:"conversation_id"`
	Scores         map[string]int `json:"scores"`
	Comment        string         `json:"comment"`

	scoreErr error
}

// UnmarshalJSON decodifica los puntajes uno por uno: un valor mal formado queda
// registrado en ScoreError y no invalida el resto del snapshot.
// Se aceptan números enteros y strings numéricos ("5").
func (c *ConversationInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		ConversationID int                        `json:"conversation_id"`
		Scores         map[string]json.RawMessage `json:"scores"`
		Comment        *string                    `json:"comment"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*c = ConversationInput{ConversationID: raw.ConversationID}
	if raw.Comment != nil {
		c.Comment = *raw.Comment
	}
	if raw.Scores == nil {
		return nil
	}

	keys := make([]string, 0, len(raw.Scores))
	for k := range raw.Scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c.Scores = make(map[string]int, len(raw.Scores))
	for _, k := range keys {
		v, err := parseScore(raw.Scores[k])
		if err != nil {
			if c.scoreErr == nil {
				c.scoreErr = fmt.Errorf("indicator %q: %w", k, err)
			}
			continue
		}
		c.Scores[k] = v
	}
	return nil
}

// ScoreError devuelve el primer puntaje que no se pudo decodificar, si lo hubo.
func (c ConversationInput) ScoreError() error {
	return c.scoreErr
}

func parseScore(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	var f float64
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrMalformedScore, raw)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedScore, s)
		}
		f = parsed
	} else if err := json.Unmarshal(raw, &f); err != nil || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: %s", ErrMalformedScore, raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v", ErrMalformedScore, f)
	}
	return int(f), nil
}

// IsEmpty indica un placeholder sin puntajes ni comentario.
func (c ConversationInput) IsEmpty() bool {
	return len(c.Scores) == 0 && c.scoreErr == nil && strings.TrimSpace(c.Comment) == ""
}

// EvaluatorWithRecords es un evaluador con sus registros ordenados por conversación.
type EvaluatorWithRecords struct {
	Evaluator Evaluator          `json:"evaluator"`
	Records   []EvaluationRecord `json:"records"`
}

// SnapshotProfile es el perfil tal como se exporta.
type SnapshotProfile struct {
	Username        string    `json:"username"`
	DisplayName     string    `json:"display_name"`
	Role            Role      `json:"role"`
	Specialty       *string   `json:"specialty,omitempty"`
	ExperienceYears int       `json:"experience_years"`
	CreatedAt       time.Time `json:"created_at"`
}

// Snapshot es el formato estable de exportación/importación.
type Snapshot struct {
	Profile       SnapshotProfile     `json:"profile"`
	Conversations []ConversationInput `json:"conversations"`
}

func NewSnapshot(ev EvaluatorWithRecords) Snapshot {
	snap := Snapshot{
		Profile: SnapshotProfile{
			Username:        ev.Evaluator.Username,
			DisplayName:     ev.Evaluator.DisplayName,
			Role:            ev.Evaluator.Role,
			Specialty:       ev.Evaluator.Specialty,
			ExperienceYears: ev.Evaluator.ExperienceYears,
			CreatedAt:       ev.Evaluator.CreatedAt,
		},
		Conversations: make([]ConversationInput, 0, len(ev.Records)),
	}
	for _, rec := range ev.Records {
		scores := make(map[string]int, len(rec.Scores))
		for k, v := range rec.Scores {
			scores[k] = v
		}
		snap.Conversations = append(snap.Conversations, ConversationInput{
			ConversationID: rec.ConversationID,
			Scores:         scores,
			Comment:        rec.Comment,
		})
	}
	return snap
}

// ProfileInput convierte el perfil exportado en datos de registro.
func (p SnapshotProfile) ProfileInput() ProfileInput {
	years := p.ExperienceYears
	return ProfileInput{
		DisplayName:     p.DisplayName,
		Role:            p.Role,
		Specialty:       p.Specialty,
		ExperienceYears: &years,
	}
}
