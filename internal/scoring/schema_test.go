package scoring

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSchemaShape(t *testing.T) {
	s := Default()
	require.Len(t, s.Categories(), 9)
	require.Equal(t, 21, s.Len())

	keys := s.Keys()
	require.Equal(t, "1_medical_accuracy", keys[0])
	require.Equal(t, "21_thai_healthcare_system", keys[20])

	for i, ind := range s.Indicators() {
		require.Equal(t, i+1, ind.ID)
		require.NotEmpty(t, ind.CategoryName)
		require.Len(t, ind.Options, 5)
	}

	ind, ok := s.Indicator("2_safety")
	require.True(t, ok)
	require.Equal(t, "CATEGORY A: Medical Accuracy & Safety", ind.CategoryName)
}

func TestSchemaIsComplete(t *testing.T) {
	s := Default()
	full := s.Keys()

	t.Run("exact set", func(t *testing.T) {
		require.True(t, s.IsComplete(full))
	})

	t.Run("missing key", func(t *testing.T) {
		require.False(t, s.IsComplete(full[:20]))
	})

	t.Run("extra unknown key", func(t *testing.T) {
		withExtra := append(append([]string{}, full...), "99_retired")
		require.False(t, s.IsComplete(withExtra))
	})

	t.Run("stale key replacing a current one", func(t *testing.T) {
		swapped := append([]string{}, full...)
		swapped[3] = "99_retired"
		require.False(t, s.IsComplete(swapped))
	})

	t.Run("duplicated key", func(t *testing.T) {
		dup := append([]string{}, full...)
		dup[20] = dup[0]
		require.False(t, s.IsComplete(dup))
	})
}

func TestSchemaValidateScore(t *testing.T) {
	s := Default()
	require.NoError(t, s.ValidateScore("1_medical_accuracy", 1))
	require.NoError(t, s.ValidateScore("1_medical_accuracy", 5))

	for _, tc := range []struct {
		name  string
		key   string
		score int
	}{
		{"zero", "1_medical_accuracy", 0},
		{"six", "1_medical_accuracy", 6},
		{"unknown key", "nope", 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := s.ValidateScore(tc.key, tc.score)
			require.True(t, errors.Is(err, ErrInvalidScoreValue), "got %v", err)
		})
	}
}

func TestLoadRejectsInvalidSchemas(t *testing.T) {
	cases := map[string]string{
		"duplicate key": `
categories:
  - name: A
    indicators:
      - {id: 1, key: a, options: [{value: 1, label: x}]}
      - {id: 2, key: a, options: [{value: 1, label: x}]}
`,
		"gap in ids": `
categories:
  - name: A
    indicators:
      - {id: 2, key: a, options: [{value: 1, label: x}]}
`,
		"option out of range": `
categories:
  - name: A
    indicators:
      - {id: 1, key: a, options: [{value: 7, label: x}]}
`,
		"empty": `categories: []`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			require.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
}

func TestValidConversationID(t *testing.T) {
	require.True(t, ValidConversationID(1))
	require.True(t, ValidConversationID(50))
	require.False(t, ValidConversationID(0))
	require.False(t, ValidConversationID(51))
}
