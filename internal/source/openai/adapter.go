// Package openai adapts an OpenAI-compatible chat completions endpoint to
// source.AnalysisSource and, optionally, source.KeywordSource.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/prompts"
	"github.com/commercecrafted/nichepipeline/internal/source"
	"github.com/go-resty/resty/v2"
)

var analysisSchema = source.MustSchema("openai-analysis.json", `{
	"type": "object",
	"required": ["opportunityScore", "competitionScore", "demandScore"],
	"properties": {
		"opportunityScore": {"type": "number"},
		"competitionScore": {"type": "number"},
		"demandScore": {"type": "number"},
		"keywords": {"type": "array", "items": {"type": "string"}}
	}
}`)

// Config holds chat completion settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	KeywordIdeas bool
	Timeout      time.Duration
}

// Adapter calls the chat completions API.
type Adapter struct {
	client       *resty.Client
	model        string
	endpoint     string
	keywordIdeas bool
}

// NewAdapter creates an analysis adapter.
// Parameters:
//   - cfg: endpoint, model and API key.
//
// Returns:
//   - *Adapter: initialized adapter.
func NewAdapter(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	return &Adapter{
		client:       client,
		model:        cfg.Model,
		endpoint:     strings.TrimSuffix(baseURL, "/") + "/chat/completions",
		keywordIdeas: cfg.KeywordIdeas,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return source.ProviderOpenAI
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
	Temperature    float32           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// complete sends one system/user exchange and returns the JSON object in
// the reply.
func (a *Adapter) complete(ctx context.Context, asin, system, user string, maxTokens int) ([]byte, error) {
	req := chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:      maxTokens,
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	var out chatResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(a.endpoint)
	if err != nil {
		return nil, source.Classify(a.Name(), asin, err, 0)
	}
	decodeErr := json.Unmarshal(resp.Body(), &out)
	if cerr := source.Classify(a.Name(), asin, nil, resp.StatusCode()); cerr != nil {
		if out.Error != nil {
			cerr.(*source.AdapterError).Message = out.Error.Message
		}
		return nil, cerr
	}
	if decodeErr != nil {
		return nil, source.Malformed(a.Name(), asin, decodeErr)
	}
	if len(out.Choices) == 0 {
		return nil, source.Malformed(a.Name(), asin, fmt.Errorf("no choices in response"))
	}

	content := extractJSON(out.Choices[0].Message.Content)
	if content == "" {
		return nil, source.Malformed(a.Name(), asin, fmt.Errorf("no JSON object in reply"))
	}
	return []byte(content), nil
}

// Analyze asks the model to score the product.
func (a *Adapter) Analyze(ctx context.Context, product *source.ProductData) (*source.Analysis, error) {
	payload, err := json.Marshal(promptProduct(product))
	if err != nil {
		return nil, fmt.Errorf("marshal product: %w", err)
	}

	raw, err := a.complete(ctx, product.ASIN, prompts.AnalysisSystemPrompt,
		fmt.Sprintf(prompts.AnalysisUserPrompt, payload), 800)
	if err != nil {
		return nil, err
	}
	if err := analysisSchema.Validate(raw); err != nil {
		return nil, source.Malformed(a.Name(), product.ASIN, err)
	}

	var reply analysisReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, source.Malformed(a.Name(), product.ASIN, err)
	}
	return &source.Analysis{
		OpportunityScore: clampScore(reply.OpportunityScore),
		CompetitionScore: clampScore(reply.CompetitionScore),
		DemandScore:      clampScore(reply.DemandScore),
		Summary:          reply.Summary,
		Strengths:        reply.Strengths,
		Weaknesses:       reply.Weaknesses,
		Keywords:         reply.Keywords,
		Raw:              raw,
	}, nil
}

// FetchKeywords returns model-generated keyword ideas tagged openai. It
// returns nothing when keyword ideas are switched off.
func (a *Adapter) FetchKeywords(ctx context.Context, product *source.ProductData) ([]source.KeywordCandidate, error) {
	if !a.keywordIdeas {
		return nil, nil
	}

	raw, err := a.complete(ctx, product.ASIN, prompts.KeywordIdeasSystemPrompt,
		fmt.Sprintf(prompts.KeywordIdeasUserPrompt, product.Title, product.Category), 400)
	if err != nil {
		return nil, err
	}

	var ideas struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal(raw, &ideas); err != nil {
		return nil, source.Malformed(a.Name(), product.ASIN, err)
	}

	out := make([]source.KeywordCandidate, 0, len(ideas.Keywords))
	for _, kw := range ideas.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		out = append(out, source.KeywordCandidate{
			Keyword:   kw,
			MatchType: source.MatchBroad,
			Source:    source.ProviderOpenAI,
		})
	}
	return out, nil
}

// analysisReply mirrors source.Analysis with fractional scores allowed.
type analysisReply struct {
	OpportunityScore float64  `json:"opportunityScore"`
	CompetitionScore float64  `json:"competitionScore"`
	DemandScore      float64  `json:"demandScore"`
	Summary          string   `json:"summary"`
	Strengths        []string `json:"strengths"`
	Weaknesses       []string `json:"weaknesses"`
	Keywords         []string `json:"keywords"`
}

type productPrompt struct {
	ASIN         string   `json:"asin"`
	Title        string   `json:"title,omitempty"`
	Brand        string   `json:"brand,omitempty"`
	Category     string   `json:"category,omitempty"`
	Price        float64  `json:"price,omitempty"`
	BSR          *int64   `json:"bsr,omitempty"`
	Rating       float64  `json:"rating,omitempty"`
	ReviewCount  int      `json:"reviewCount,omitempty"`
	MonthlySales int      `json:"monthlySales,omitempty"`
	FBAFees      *float64 `json:"fbaFees,omitempty"`
}

func promptProduct(p *source.ProductData) productPrompt {
	return productPrompt{
		ASIN:         p.ASIN,
		Title:        p.Title,
		Brand:        p.Brand,
		Category:     p.Category,
		Price:        p.Price,
		BSR:          p.BSR,
		Rating:       p.Rating,
		ReviewCount:  p.ReviewCount,
		MonthlySales: p.MonthlySales,
		FBAFees:      p.FBAFees,
	}
}

// extractJSON strips markdown fences and surrounding prose from a reply.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end < start {
		return ""
	}
	return content[start : end+1]
}

func clampScore(v float64) int {
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

var (
	_ source.AnalysisSource = (*Adapter)(nil)
	_ source.KeywordSource  = (*Adapter)(nil)
)
