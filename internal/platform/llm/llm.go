// Package llm filters member-search candidates through a local
// Ollama-compatible model.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/claimbot/claimbot/internal/domain/search"
	"github.com/claimbot/claimbot/internal/platform/httpclient"
)

const (
	DefaultURL   = "http://localhost:11434"
	DefaultModel = "llama3.1"
)

var (
	// ErrNoInstructions is returned when the instructions file is empty.
	ErrNoInstructions = errors.New("llm instructions are empty")

	// ErrMalformedReply is returned when the model reply is not a JSON
	// array of candidates.
	ErrMalformedReply = errors.New("malformed llm reply")
)

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Filter implements driver.CandidateFilter using /api/generate.
type Filter struct {
	client       *httpclient.Client
	url          string
	model        string
	instructions string
	logger       zerolog.Logger
}

// NewFilter reads the instructions file and returns a filter bound to the
// model at baseURL.
func NewFilter(client *httpclient.Client, baseURL, model, instructionsFile string, logger zerolog.Logger) (*Filter, error) {
	raw, err := os.ReadFile(instructionsFile)
	if err != nil {
		return nil, fmt.Errorf("read llm instructions: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoInstructions, instructionsFile)
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Filter{
		client:       client,
		url:          strings.TrimRight(baseURL, "/") + "/api/generate",
		model:        model,
		instructions: text,
		logger:       logger,
	}, nil
}

// FilterCandidates sends the candidates to the model and parses its reply.
func (f *Filter) FilterCandidates(ctx context.Context, candidates []search.Candidate) ([]search.Candidate, error) {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("encode candidates: %w", err)
	}

	var out generateResponse
	err = f.client.PostJSON(ctx, f.url, generateRequest{
		Model:   f.model,
		Prompt:  f.prompt(payload),
		Stream:  false,
		Options: generateOptions{Temperature: 0},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("llm generate: %w", err)
	}

	filtered, err := ParseReply(out.Response)
	if err != nil {
		return nil, err
	}
	f.logger.Debug().
		Int("in", len(candidates)).
		Int("out", len(filtered)).
		Str("model", f.model).
		Msg("llm filtered candidates")
	return filtered, nil
}

func (f *Filter) prompt(payload []byte) string {
	var b strings.Builder
	b.WriteString(f.instructions)
	b.WriteString("\n\nReply with only a JSON array using the same fields as the input.\n\nCandidates:\n")
	b.Write(payload)
	return b.String()
}

// ParseReply decodes a model reply as a JSON array of candidates. Unknown
// fields, trailing data and non-array documents are rejected. A surrounding
// markdown code fence is tolerated.
func ParseReply(reply string) ([]search.Candidate, error) {
	text := stripFence(strings.TrimSpace(reply))
	if !strings.HasPrefix(text, "[") {
		return nil, fmt.Errorf("%w: not a json array", ErrMalformedReply)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()
	var out []search.Candidate
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedReply)
	}
	for i, c := range out {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w", ErrMalformedReply, i, err)
		}
	}
	return out, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
