package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/admitdata/harvest-cli/internal/config"
	"github.com/admitdata/harvest-cli/internal/resilience"
	"github.com/admitdata/harvest-cli/pkg/anthropic"
)

const classifySystemPrompt = `You standardize graduate admissions entries. Given a noisy program/university string, respond with a valid JSON object and nothing else: {"program": "<canonical program name>", "university": "<canonical university name>"}. Expand abbreviations (CS -> Computer Science, MIT -> Massachusetts Institute of Technology). Use an empty string for a part that is not present.`

const classifyUserPrompt = `Entry: %s`

// ClaudeClassifier implements Classifier on top of the Anthropic API.
type ClaudeClassifier struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeClassifier builds a classifier from API configuration.
func NewClaudeClassifier(client anthropic.Client, cfg config.AnthropicConfig) *ClaudeClassifier {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &ClaudeClassifier{
		client:    client,
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

// Classify asks the model for the canonical label pair. Malformed model
// output is a fatal error for this text: retrying the same prompt is
// unlikely to change the shape, and the record passes through
// unnormalized.
func (c *ClaudeClassifier) Classify(ctx context.Context, text string) (Labels, error) {
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    classifySystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(classifyUserPrompt, text)},
		},
	})
	if err != nil {
		return Labels{}, err
	}
	resp.Usage.LogUsage(c.model, "classify")

	var parsed struct {
		Program    string `json:"program"`
		University string `json:"university"`
	}
	raw := extractJSON(resp.Text())
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Labels{}, resilience.NewFatalError(
			eris.Wrapf(err, "classifier: malformed response %q", resp.Text()),
		)
	}

	return Labels{
		Program:    strings.TrimSpace(parsed.Program),
		University: strings.TrimSpace(parsed.University),
	}, nil
}

// extractJSON pulls the first JSON object out of a response that may be
// wrapped in prose or a code fence.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
