package bias

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexreview/lexreview/internal/llm/llmtest"
)

func TestParseCategory(t *testing.T) {
	assert.Equal(t, CategoryGender, ParseCategory(" Gender "))
	assert.Equal(t, CategoryCaste, ParseCategory("caste"))
	assert.Equal(t, CategoryOther, ParseCategory("political"))
	assert.Equal(t, CategoryOther, ParseCategory(""))
}

func TestApplyThreshold(t *testing.T) {
	j := Judgment{IsBiased: true, Category: CategoryGender, Confidence: 0.6}
	assert.False(t, j.ApplyThreshold(0.7).IsBiased)
	assert.Empty(t, j.ApplyThreshold(0.7).Category)
	assert.True(t, j.ApplyThreshold(0.5).IsBiased)

	neutral := Judgment{Confidence: 0.99}
	assert.Equal(t, neutral, neutral.ApplyThreshold(0.7))
}

func TestLLMClassifier(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  Judgment
	}{
		{"biased", `{"is_biased": true, "category": "gender", "confidence": 0.91}`,
			Judgment{IsBiased: true, Category: CategoryGender, Confidence: 0.91}},
		{"neutral", `{"is_biased": false, "category": null, "confidence": 0.95}`,
			Judgment{IsBiased: false, Confidence: 0.95}},
		{"fenced", "```json\n{\"is_biased\": true, \"category\": \"Caste\", \"confidence\": 0.8}\n```",
			Judgment{IsBiased: true, Category: CategoryCaste, Confidence: 0.8}},
		{"missing category", `{"is_biased": true, "confidence": 0.75}`,
			Judgment{IsBiased: true, Category: CategoryOther, Confidence: 0.75}},
		{"confidence clamped", `{"is_biased": true, "category": "age", "confidence": 1.7}`,
			Judgment{IsBiased: true, Category: CategoryAge, Confidence: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := llmtest.Static(tt.reply)
			got, err := NewLLMClassifier(provider).Classify(context.Background(), "He must sign.")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			calls := provider.Calls()
			require.Len(t, calls, 1)
			assert.True(t, calls[0].JSONMode)
			assert.Contains(t, provider.LastUserMessage(), "He must sign.")
		})
	}
}

func TestLLMClassifierErrors(t *testing.T) {
	_, err := NewLLMClassifier(llmtest.Static("I cannot help with that")).Classify(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClassification)

	_, err = NewLLMClassifier(llmtest.Failing(errors.New("timeout"))).Classify(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClassification)
}

func TestLLMSuggester(t *testing.T) {
	provider := llmtest.Static(`  "The applicant must sign the form."  `)
	got, err := NewLLMSuggester(provider).Suggest(context.Background(), "He must sign the form.", CategoryGender)
	require.NoError(t, err)
	assert.Equal(t, "The applicant must sign the form.", got)

	msg := provider.LastUserMessage()
	assert.True(t, strings.Contains(msg, "Bias category: gender"))
	assert.Contains(t, msg, "He must sign the form.")
}

func TestLLMSuggesterErrors(t *testing.T) {
	_, err := NewLLMSuggester(llmtest.Failing(errors.New("down"))).Suggest(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrGeneration)

	_, err = NewLLMSuggester(llmtest.Static("   ")).Suggest(context.Background(), "x", CategoryAge)
	assert.ErrorIs(t, err, ErrGeneration)
}
