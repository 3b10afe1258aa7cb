// Package classifier is the intent-classification boundary. The review
// engine only depends on the Classifier interface; the Anthropic-backed
// implementation lives behind it.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Result is one classification. Intent is an open-ended label; unknown
// values pass through the system untouched. Confidence is in [0, 1].
type Result struct {
	Intent     string            `json:"intent"`
	Entities   map[string]string `json:"entities"`
	Confidence float64           `json:"confidence"`
}

// Classifier extracts intent, entities, and confidence from an email.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (*Result, error)
}

// Client wraps the Anthropic API for intent classification.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates a classifier client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

const systemPrompt = `You classify customer support emails for a payments company. Return ONLY a JSON object with these fields:
- "intent": one of "refund_request", "payment_dispute", "subscription_cancel", "subscription_change", "billing_question", "payment_update", "shipping_status", or "other". Use a more specific label only if none of these fit
- "entities": an object of extracted details as strings. Use "amount" for a monetary amount (digits only, e.g. "59.99"), "order_id" for order references, "charge_id" for charge references
- "confidence": your confidence in the intent as a number between 0 and 1

Rules:
- Amounts must be plain decimal strings without currency symbols
- Omit entities you cannot find; never invent values
- Be conservative with confidence: ambiguous or multi-topic emails deserve low scores
- Return valid JSON only, no markdown fencing or explanation`

// Classify sends the email to the LLM and returns the structured result.
func (c *Client) Classify(ctx context.Context, subject, body string) (*Result, error) {
	var sb strings.Builder
	sb.WriteString("Subject: ")
	sb.WriteString(subject)
	sb.WriteString("\n\n")
	sb.WriteString(body)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(sb.String())),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	// Strip markdown fencing if present
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if result.Entities == nil {
		result.Entities = map[string]string{}
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	return &result, nil
}
