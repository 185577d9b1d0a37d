package adjudicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/resilience"
)

const (
	defaultModel         = openai.GPT4oMini
	defaultMaxCandidates = 5
)

const systemPrompt = `You match retail stores to the shopping mall they are located in.
You are given one store and a numbered list of candidate malls with their distance
from the store and a name similarity score from 0 to 100.
Answer with a JSON object and nothing else:
{"mall_id": "<id of the matching candidate, or none>", "confidence": "high|medium|low", "reason": "<short explanation>"}
Answer "none" when the store is not inside any of the candidates, e.g. a street shop
or an airport outlet.`

// LLMConfig configures the chat-completion adjudicator
type LLMConfig struct {
	Endpoint      string // base URL of an OpenAI-compatible API, e.g. https://api.openai.com/v1
	APIKey        string
	Model         string
	MaxCandidates int
	Timeout       time.Duration
}

// LLM asks an OpenAI-compatible chat-completion endpoint to pick a mall
type LLM struct {
	config LLMConfig
	client *openai.Client
}

// NewLLM creates an LLM adjudicator
func NewLLM(config LLMConfig) *LLM {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = defaultMaxCandidates
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimRight(config.Endpoint, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &LLM{config: config, client: openai.NewClientWithConfig(clientConfig)}
}

type llmAnswer struct {
	MallID     string `json:"mall_id"`
	Confidence string `json:"confidence"`
	Reason     string `json:"reason"`
}

// Adjudicate sends one store with its candidates and parses the JSON answer.
// Malformed answers and ids outside the presented candidates are errors; 4xx
// responses other than 429 are not worth retrying.
func (l *LLM) Adjudicate(ctx context.Context, req match.Request) (match.Decision, error) {
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: l.prompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return match.Decision{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return match.Decision{}, errors.New("llm response has no choices")
	}

	return parseAnswer(req, resp.Choices[0].Message.Content)
}

func (l *LLM) prompt(req match.Request) string {
	var b strings.Builder
	s := req.Store
	fmt.Fprintf(&b, "Store: %s\n", s.Name)
	if s.Brand != "" {
		fmt.Fprintf(&b, "Brand: %s\n", s.Brand)
	}
	if s.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", s.Address)
	}
	if s.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", s.Category)
	}

	b.WriteString("Candidates:\n")
	if len(req.Candidates) == 0 {
		b.WriteString("(none within range)\n")
	}
	for i, c := range req.Candidates {
		if i == l.config.MaxCandidates {
			break
		}
		fmt.Fprintf(&b, "%d. id=%s name=%q distance=%.0fm similarity=%.0f\n",
			i+1, c.MallID, c.MallName, c.DistanceKm*1000, c.NameSimilarity)
	}
	return b.String()
}

func parseAnswer(req match.Request, content string) (match.Decision, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var answer llmAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &answer); err != nil {
		return match.Decision{}, fmt.Errorf("malformed llm answer %q: %w", content, err)
	}

	confidence, err := match.ParseTier(strings.ToLower(strings.TrimSpace(answer.Confidence)))
	if err != nil {
		return match.Decision{}, fmt.Errorf("malformed llm answer: %w", err)
	}

	dec := match.Decision{Confidence: confidence, Reason: answer.Reason, Source: "llm"}
	id := strings.TrimSpace(answer.MallID)
	switch {
	case id == "":
		return match.Decision{}, errors.New("malformed llm answer: empty mall_id")
	case strings.EqualFold(id, "none"):
		dec.Verdict = match.VerdictNone
	default:
		found := false
		for _, c := range req.Candidates {
			if c.MallID == id {
				found = true
				break
			}
		}
		if !found {
			return match.Decision{}, fmt.Errorf("llm picked %s which is not a candidate", id)
		}
		dec.Verdict = match.VerdictAccept
		dec.MallID = id
	}
	return dec, nil
}

// classifyError marks failures that a retry cannot fix as permanent
func classifyError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited by llm endpoint: %w", err)
	case status == http.StatusUnauthorized:
		return resilience.Permanent(fmt.Errorf("llm authentication failed, check api key: %w", err))
	case status >= 400 && status < 500:
		return resilience.Permanent(fmt.Errorf("llm request rejected: %w", err))
	default:
		return fmt.Errorf("llm request: %w", err)
	}
}
