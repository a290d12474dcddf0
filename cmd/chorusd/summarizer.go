package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/George-Strauch/Chorus/internal/llmprovider"
	"github.com/George-Strauch/Chorus/pkg/models"
)

// cheapSummarizer implements contextstore.Summarizer with a single
// non-streaming-in-spirit call to a cheap model, per spec's "2-4 sentence
// instruction" snapshot summary.
type cheapSummarizer struct {
	provider llmprovider.Provider
	model    string
}

const summaryInstruction = "Summarize the following conversation in 2-4 sentences, for an operator skimming a session list. Do not include preamble."

func (s *cheapSummarizer) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	if s == nil || s.provider == nil {
		return "", fmt.Errorf("chorusd: no summarizer provider configured")
	}

	req := &llmprovider.CompletionRequest{
		Model:     s.model,
		System:    summaryInstruction,
		Messages:  messages,
		MaxTokens: 200,
	}
	chunks, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		b.WriteString(chunk.Text)
	}
	return strings.TrimSpace(b.String()), nil
}
