// Package bias adapts an LLM to the sentence classification and
// neutral-rewrite contracts used by the review workflow.
package bias

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Category names the kind of bias a sentence exhibits.
type Category string

const (
	CategoryGender        Category = "gender"
	CategoryCaste         Category = "caste"
	CategoryEthnicity     Category = "ethnicity"
	CategoryReligion      Category = "religion"
	CategoryRegional      Category = "regional"
	CategoryDisability    Category = "disability"
	CategoryAge           Category = "age"
	CategorySocioeconomic Category = "socioeconomic"
	CategoryOther         Category = "other"
)

// Categories lists every recognised category.
var Categories = []Category{
	CategoryGender, CategoryCaste, CategoryEthnicity, CategoryReligion,
	CategoryRegional, CategoryDisability, CategoryAge, CategorySocioeconomic,
	CategoryOther,
}

// ParseCategory maps free text to a Category, defaulting to CategoryOther.
func ParseCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if string(c) == s {
			return c
		}
	}
	return CategoryOther
}

// DefaultThreshold is the confidence below which a biased judgment is
// reported as neutral.
const DefaultThreshold = 0.7

var (
	ErrClassification = eris.New("bias: classification failed")
	ErrGeneration     = eris.New("bias: suggestion generation failed")
)

// Judgment is a classifier's verdict on one sentence. Category is empty
// when the sentence is not biased.
type Judgment struct {
	IsBiased   bool     `json:"is_biased"`
	Category   Category `json:"category,omitempty"`
	Confidence float64  `json:"confidence"`
}

// ApplyThreshold demotes a biased judgment below threshold to neutral.
func (j Judgment) ApplyThreshold(threshold float64) Judgment {
	if j.IsBiased && j.Confidence < threshold {
		return Judgment{IsBiased: false, Confidence: j.Confidence}
	}
	return j
}

// Classifier decides whether a sentence is biased.
type Classifier interface {
	Classify(ctx context.Context, sentence string) (Judgment, error)
}

// Suggester rewrites a biased sentence into a neutral one.
type Suggester interface {
	Suggest(ctx context.Context, sentence string, category Category) (string, error)
}
