package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/resource-engine/pkg/models"
)

func TestLexicalOverlapRelevance(t *testing.T) {
	scorer := NewLexicalOverlapRelevance()

	res := &models.Resource{
		Name:         "SQL Database",
		Capabilities: []string{"sql execution", "table lookup"},
		Metadata: map[string]any{
			"dialect":      "postgres",
			"success_rate": 0.9, // non-string values carry no lexical signal
		},
	}

	tests := []struct {
		name  string
		query string
		want  float64
	}{
		{"full overlap", "sql table lookup", 1.0},
		{"partial overlap", "run a sql query", 0.25},
		{"metadata string values count", "postgres execution", 1.0},
		{"case and punctuation insensitive", "SQL, Database!", 1.0},
		{"no overlap", "render a chart", 0.0},
		{"empty query", "   ", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, scorer.Score(tt.query, res), 1e-9)
		})
	}
}

func TestLexicalOverlapRelevanceNoSignal(t *testing.T) {
	scorer := NewLexicalOverlapRelevance()
	assert.Zero(t, scorer.Score("anything", &models.Resource{}))
}
