package scoring

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// ConversationCount es la cantidad fija de conversaciones a evaluar.
	ConversationCount = 50
	MinScore          = 1
	MaxScore          = 5
)

var (
	ErrInvalidScoreValue = errors.New("invalid score value")
	ErrInvalidSchema     = errors.New("invalid scoring schema")
)

//go:embed criteria.yaml
var defaultCriteria []byte

// Option es un valor ordinal de un indicador con su etiqueta.
type Option struct {
	Value int    `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// Indicator describe una dimensión de la rúbrica.
type Indicator struct {
	ID           int      `yaml:"id" json:"id"`
	Key          string   `yaml:"key" json:"key"`
	Name         string   `yaml:"name" json:"name"`
	Definition   string   `yaml:"definition" json:"definition"`
	CategoryName string   `yaml:"-" json:"category_name"`
	Options      []Option `yaml:"options" json:"options"`
}

type Category struct {
	Name       string       `yaml:"name" json:"name"`
	Indicators []*Indicator `yaml:"indicators" json:"indicators"`
}

// Schema es la rúbrica inmutable compartida por todo el proceso.
type Schema struct {
	categories []*Category
	indicators []*Indicator
	byKey      map[string]*Indicator
}

var (
	defaultOnce   sync.Once
	defaultSchema *Schema
)

// Default devuelve la rúbrica embebida. Se parsea una sola vez.
func Default() *Schema {
	defaultOnce.Do(func() {
		s, err := Load(bytes.NewReader(defaultCriteria))
		if err != nil {
			panic(fmt.Sprintf("embedded scoring schema: %v", err))
		}
		defaultSchema = s
	})
	return defaultSchema
}

// Load parsea y valida una rúbrica en YAML.
func Load(r io.Reader) (*Schema, error) {
	var doc struct {
		Categories []*Category `yaml:"categories"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("%w: no categories", ErrInvalidSchema)
	}

	s := &Schema{
		categories: doc.Categories,
		byKey:      make(map[string]*Indicator),
	}
	for _, cat := range doc.Categories {
		for _, ind := range cat.Indicators {
			ind.Key = strings.TrimSpace(ind.Key)
			if ind.Key == "" {
				return nil, fmt.Errorf("%w: indicator %d has empty key", ErrInvalidSchema, ind.ID)
			}
			if _, dup := s.byKey[ind.Key]; dup {
				return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidSchema, ind.Key)
			}
			if ind.ID != len(s.indicators)+1 {
				return nil, fmt.Errorf("%w: indicator %q has id %d, want %d", ErrInvalidSchema, ind.Key, ind.ID, len(s.indicators)+1)
			}
			for _, opt := range ind.Options {
				if opt.Value < MinScore || opt.Value > MaxScore {
					return nil, fmt.Errorf("%w: indicator %q option %d out of range", ErrInvalidSchema, ind.Key, opt.Value)
				}
			}
			ind.CategoryName = cat.Name
			s.byKey[ind.Key] = ind
			s.indicators = append(s.indicators, ind)
		}
	}
	if len(s.indicators) == 0 {
		return nil, fmt.Errorf("%w: no indicators", ErrInvalidSchema)
	}
	return s, nil
}

func (s *Schema) Categories() []*Category {
	return s.categories
}

// Indicators devuelve los indicadores en orden de id.
func (s *Schema) Indicators() []*Indicator {
	return s.indicators
}

func (s *Schema) Indicator(key string) (*Indicator, bool) {
	ind, ok := s.byKey[key]
	return ind, ok
}

func (s *Schema) Has(key string) bool {
	_, ok := s.byKey[key]
	return ok
}

// Keys devuelve las claves de indicador en orden de id.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.indicators))
	for _, ind := range s.indicators {
		keys = append(keys, ind.Key)
	}
	return keys
}

func (s *Schema) Len() int {
	return len(s.indicators)
}

// IsComplete es verdadero solo si keys coincide exactamente con el conjunto de la rúbrica.
// Claves extra (por ejemplo de una rúbrica retirada) invalidan la completitud.
func (s *Schema) IsComplete(keys []string) bool {
	if len(keys) != len(s.indicators) {
		return false
	}
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if !s.Has(k) {
			return false
		}
		seen[k] = struct{}{}
	}
	return len(seen) == len(s.indicators)
}

// ValidateScore rechaza claves desconocidas y valores fuera de 1..5.
func (s *Schema) ValidateScore(key string, score int) error {
	if !s.Has(key) {
		return fmt.Errorf("%w: unknown indicator %q", ErrInvalidScoreValue, key)
	}
	if score < MinScore || score > MaxScore {
		return fmt.Errorf("%w: indicator %q score %d outside %d..%d", ErrInvalidScoreValue, key, score, MinScore, MaxScore)
	}
	return nil
}

func ValidConversationID(id int) bool {
	return id >= 1 && id <= ConversationCount
}
