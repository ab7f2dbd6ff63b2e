package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/recallgraph/recalld/internal/models"
	"github.com/recallgraph/recalld/pkg/xmlutil"
)

// extractionMaxTokens caps the Claude response size for triple extraction.
const extractionMaxTokens = 1024

// extractionPromptTemplate asks Claude for entities and relationship triples.
// User content is injected via an XML tag to prevent prompt injection attacks.
const extractionPromptTemplate = `You are a knowledge extraction system for an AI agent memory service.

Analyze the text and identify named entities and the relationships between them.

Return ONLY a JSON object with this exact schema:
{"entities": ["<name>", ...], "relations": [{"src": "<entity>", "type": "<RELATION_TYPE>", "dst": "<entity>"}, ...]}

Relation types are upper snake case verbs such as USES, LEADS, DEPENDS_ON, PART_OF, REPLACES.
Every relation src and dst must appear in the entities list. If nothing notable is found,
return {"entities": [], "relations": []}.

<content>%s</content>`

// claudeExtraction is the raw JSON shape Claude returns.
type claudeExtraction struct {
	Entities  []string `json:"entities"`
	Relations []struct {
		Src  string `json:"src"`
		Type string `json:"type"`
		Dst  string `json:"dst"`
	} `json:"relations"`
}

// ClaudeExtractor extracts entities and relations using the Anthropic API.
type ClaudeExtractor struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewClaudeExtractor creates an extractor backed by the Claude API.
func NewClaudeExtractor(apiKey, model string, logger *slog.Logger) *ClaudeExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeExtractor{
		client: &c,
		model:  model,
		logger: logger,
	}
}

// Extract identifies entities and relation triples in the given content.
// API and parse failures are returned as errors; the engine logs them and
// writes the record with an empty graph payload.
func (e *ClaudeExtractor) Extract(ctx context.Context, content string) (Extraction, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate, xmlutil.Escape(content))

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: extractionMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: "You are a precise knowledge extraction system. Output only valid JSON."},
		},
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("extractor: Claude API call: %w", err)
	}

	var responseText string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			responseText = strings.TrimSpace(resp.Content[i].Text)
			break
		}
	}
	if responseText == "" {
		return Extraction{}, fmt.Errorf("extractor: empty response from Claude")
	}

	var raw claudeExtraction
	if jsonErr := json.Unmarshal([]byte(responseText), &raw); jsonErr != nil {
		return Extraction{}, fmt.Errorf("extractor: parsing response: %w (raw: %s)", jsonErr, responseText)
	}

	out := Extraction{Entities: dedupe(raw.Entities)}
	known := make(map[string]bool, len(out.Entities))
	for _, name := range out.Entities {
		known[name] = true
	}
	for _, r := range raw.Relations {
		if r.Src == "" || r.Dst == "" || r.Type == "" {
			continue
		}
		// Drop relations citing entities Claude did not list.
		if !known[r.Src] || !known[r.Dst] {
			e.logger.Warn("extractor: relation cites unknown entity, dropping", "src", r.Src, "dst", r.Dst)
			continue
		}
		out.Relations = append(out.Relations, models.Relation{Src: r.Src, Type: r.Type, Dst: r.Dst})
	}

	e.logger.Info("extracted graph payload", "entities", len(out.Entities), "relations", len(out.Relations))
	return out, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
