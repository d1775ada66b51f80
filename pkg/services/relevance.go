package services

import (
	"strings"
	"unicode"

	"github.com/ekaya-inc/resource-engine/pkg/models"
)

// RelevanceScorer produces the context-relevance signal the reranker blends
// in. Implementations must be pure heuristics: no signal means 0, and a
// scorer never returns an error.
type RelevanceScorer interface {
	Score(query string, r *models.Resource) float64
}

// LexicalOverlapRelevance scores context relevance as the fraction of query
// tokens that also appear in the resource's name, capabilities, or string
// metadata values. Deliberately crude; semantic similarity is already covered
// by the vector signals.
type LexicalOverlapRelevance struct{}

// NewLexicalOverlapRelevance creates the default relevance scorer.
func NewLexicalOverlapRelevance() *LexicalOverlapRelevance {
	return &LexicalOverlapRelevance{}
}

var _ RelevanceScorer = (*LexicalOverlapRelevance)(nil)

func (LexicalOverlapRelevance) Score(query string, r *models.Resource) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}

	resourceTokens := make(map[string]struct{})
	for _, tok := range tokenize(r.Name) {
		resourceTokens[tok] = struct{}{}
	}
	for _, c := range r.Capabilities {
		for _, tok := range tokenize(c) {
			resourceTokens[tok] = struct{}{}
		}
	}
	for _, v := range r.Metadata {
		if s, ok := v.(string); ok {
			for _, tok := range tokenize(s) {
				resourceTokens[tok] = struct{}{}
			}
		}
	}
	if len(resourceTokens) == 0 {
		return 0
	}

	matched := 0
	for _, tok := range queryTokens {
		if _, ok := resourceTokens[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
