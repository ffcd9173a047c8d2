package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sethvargo/go-envconfig"

	"rankarena/internal/domain"
)

// Judge picks the best candidate for one task description. Implementations
// are fallible and latency-variable; callers own the timeout.
type Judge interface {
	Rank(ctx context.Context, taskDescription string, candidates []domain.Candidate) (domain.Verdict, error)
}

// Completer exposes a raw chat completion for callers that need JSON output
// outside the ranking contract (scenario generation).
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Settings come from the environment only; the YAML config never carries
// credentials.
type Settings struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	BaseURL string `env:"OPENAI_BASE_URL"`
}

// OpenAI is the production judge, backed by an OpenAI-compatible endpoint.
type OpenAI struct {
	client            openai.Client
	model             string
	maxCandidateChars int
}

var _ Judge = (*OpenAI)(nil)
var _ Completer = (*OpenAI)(nil)

// NewOpenAI builds a judge from environment credentials and the configured
// model. BaseURL overrides allow DeepSeek-style compatible endpoints.
func NewOpenAI(ctx context.Context, model string, maxCandidateChars int) (*OpenAI, error) {
	var s Settings
	if err := envconfig.Process(ctx, &s); err != nil {
		return nil, err
	}
	if s.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(s.APIKey)}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	return &OpenAI{
		client:            openai.NewClient(opts...),
		model:             model,
		maxCandidateChars: maxCandidateChars,
	}, nil
}

// Rank judges the candidates against one task description and returns the
// parsed verdict. A verdict naming a candidate outside the given set is the
// caller's problem to reject; this layer only guarantees well-formed JSON.
func (j *OpenAI) Rank(ctx context.Context, taskDescription string, candidates []domain.Candidate) (domain.Verdict, error) {
	user := fmt.Sprintf(userPromptTemplate, taskDescription, candidatesText(candidates, j.maxCandidateChars))
	raw, err := j.Complete(ctx, systemPrompt, user)
	if err != nil {
		return domain.Verdict{}, err
	}
	return ParseVerdict(raw)
}

// Complete performs one JSON-mode chat completion.
func (j *OpenAI) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := j.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(j.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0.7),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	content := resp.Choices[0].Message.Content
	clog.FromContext(ctx).With("model", j.model).
		With("content_length", len(content)).
		Debug("judge completion received")
	return content, nil
}

// ParseVerdict extracts a verdict from raw model output, tolerating
// markdown code fences around the JSON body.
func ParseVerdict(raw string) (domain.Verdict, error) {
	clean := StripFences(raw)
	var data struct {
		BestCandidateID string `json:"best_candidate_id"`
		Reasoning       string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(clean), &data); err != nil {
		return domain.Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	if data.BestCandidateID == "" {
		return domain.Verdict{}, errors.New("verdict missing best_candidate_id")
	}
	return domain.Verdict{WinnerID: data.BestCandidateID, Reasoning: data.Reasoning}, nil
}

// StripFences removes a surrounding markdown code fence, if present.
func StripFences(raw string) string {
	clean := strings.TrimSpace(raw)
	if strings.HasPrefix(clean, "```json") {
		clean = strings.TrimPrefix(clean, "```json")
	} else if strings.HasPrefix(clean, "```") {
		clean = strings.TrimPrefix(clean, "```")
	}
	clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
	return strings.TrimSpace(clean)
}
