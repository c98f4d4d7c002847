// Package extract turns scraped page content into field claims using an
// Anthropic model. Each page yields zero or more claims attributed to the
// page's URL.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-enricher/internal/dedupe"
	"github.com/sells-group/catalog-enricher/internal/model"
	"github.com/sells-group/catalog-enricher/pkg/anthropic"
)

const systemPrompt = `You extract structured product facts from page content for printer
consumables and similar catalog items. Given a part identifier and a page,
return a JSON array of claims. Each claim has:
  "field": one of brand, model, yield_pages, weight, dimensions, color,
           image_url, compatibility
  "value": the fact as stated on the page (number for yield_pages and weight,
           string otherwise, array of printer models for compatibility)
  "confidence": 0-100, how clearly the page states this fact for this exact part

Only report facts the page actually states about the given part. If the page
is about a different part, return []. Respond with the JSON array only.`

// maxContentChars bounds how much page markdown goes into the prompt.
const maxContentChars = 24_000

// Page is one scraped document to extract claims from.
type Page struct {
	URL     string
	Content string
}

// Extractor produces claims from pages via CreateMessage calls.
type Extractor struct {
	client anthropic.Client
	model  string
}

// NewExtractor builds an Extractor for the given model.
func NewExtractor(client anthropic.Client, modelID string) *Extractor {
	return &Extractor{client: client, model: modelID}
}

// rawClaim mirrors the JSON shape the model is prompted to return.
type rawClaim struct {
	Field      string  `json:"field"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ExtractClaims runs one extraction call for a page and returns the claims
// attributed to the page URL. An empty page yields no claims and no call.
func (e *Extractor) ExtractClaims(ctx context.Context, identifier string, page Page) ([]model.Claim, error) {
	content := strings.TrimSpace(page.Content)
	if content == "" {
		return nil, nil
	}
	if len(content) > maxContentChars {
		cut := maxContentChars
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 2048,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf("Part identifier: %s\nPage URL: %s\n\n%s", identifier, page.URL, content)},
		},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(e.model, "extract")

	claims, err := parseClaims(resp.Text(), page.URL)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("extract: parse claims for %s", identifier))
	}

	zap.L().Debug("extracted claims",
		zap.String("identifier", identifier),
		zap.String("url", page.URL),
		zap.Int("count", len(claims)))

	return claims, nil
}

// parseClaims decodes the model output into claims. The model sometimes
// wraps the array in a code fence; strip it before decoding.
func parseClaims(text, sourceURL string) ([]model.Claim, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == "" || text == "[]" {
		return nil, nil
	}

	var raw []rawClaim
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, eris.Wrap(err, "decode claim array")
	}

	claims := make([]model.Claim, 0, len(raw))
	for _, rc := range raw {
		if rc.Field == "" || rc.Value == nil {
			continue
		}
		c := model.Claim{
			Field:      rc.Field,
			Value:      rc.Value,
			Confidence: clampConfidence(rc.Confidence),
			Source:     sourceURL,
		}
		if s, ok := rc.Value.(string); ok {
			c.Normalized = dedupe.Normalize(s)
		}
		claims = append(claims, c)
	}
	return claims, nil
}

// clampConfidence bounds model-reported confidence to [0,100]. The
// resolver's margin math assumes the range; model output is untrusted.
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
