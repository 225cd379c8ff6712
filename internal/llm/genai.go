package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const systemPrompt = `You are a sales-engineering writing assistant. You refine
pre-filled RFP and proposal collateral. Use only the knowledge passages
provided; never invent customer facts. Where a placeholder could not be
resolved from the customer profile, write the most reasonable neutral phrasing
and keep the surrounding text coherent. Return markdown only, no preamble.`

// DraftRequest carries everything the model needs to polish a
// pre-filled collateral body.
type DraftRequest struct {
	Title        string
	Body         string
	CustomerName string
	Summary      string
	Skills       []string
	Instructions string
	Unresolved   []string
}

// Client wraps the Gemini API for collateral drafting.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a drafting client. The API key is required; callers that
// run without one should hold a nil *Client, which every method treats
// as "drafting disabled".
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{client: client, model: model}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Draft sends the pre-filled body plus context to the model and
// returns the polished markdown. A nil client returns the body
// unchanged so the pipeline degrades to plain placeholder filling.
func (c *Client) Draft(ctx context.Context, req DraftRequest) (string, error) {
	if c == nil {
		return req.Body, nil
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buildPrompt(req), genai.RoleUser),
	}

	temperature := float32(0.3)
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("genai returned empty draft")
	}
	return text, nil
}

func buildPrompt(req DraftRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task\nRefine the draft below for customer %q.\n\n", req.CustomerName)

	if req.Summary != "" {
		fmt.Fprintf(&b, "# Customer summary\n%s\n\n", req.Summary)
	}

	if len(req.Skills) > 0 {
		b.WriteString("# Knowledge passages\n")
		for _, skill := range req.Skills {
			b.WriteString(skill)
			b.WriteString("\n\n")
		}
	}

	if req.Instructions != "" {
		fmt.Fprintf(&b, "# Drafting instructions\n%s\n\n", req.Instructions)
	}

	if len(req.Unresolved) > 0 {
		fmt.Fprintf(&b, "# Unresolved placeholders\nThe following fields were missing from the customer profile: %s. Smooth over these gaps.\n\n", strings.Join(req.Unresolved, ", "))
	}

	fmt.Fprintf(&b, "# Draft (%s)\n%s\n", req.Title, req.Body)
	return b.String()
}
