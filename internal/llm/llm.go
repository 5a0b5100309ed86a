package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/stats"
)

// Insight is a short narrative over one window's focus and habit reports.
type Insight struct {
	Summary     string   `json:"summary"`
	Strengths   []string `json:"strengths"`
	Suggestions []string `json:"suggestions"`
}

// Client wraps the Anthropic API for report narratives.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
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

// buildInsightPrompt constructs the system and user prompts for a report
// narrative. Either report may be nil.
func buildInsightPrompt(focus *stats.FocusReport, habit *stats.HabitReport) (system string, user string) {
	system = `You are a focus coach reviewing one person's pomodoro statistics. Return ONLY a JSON object with these fields:
- "summary": 2-4 sentences describing how the period went, citing concrete figures
- "strengths": up to 3 short phrases naming what went well
- "suggestions": up to 3 short, specific, actionable suggestions

Definitions:
- "focusIndex" is actual focused minutes as a percentage of planned minutes, capped at 100
- "avgFocusTime" is focused minutes per elapsed day; "avgInterruptions" is interrupted periods per elapsed day
- "problematicEventRatio" is the percentage of newly created tasks that were later deleted or had their category, priority or due date changed
- "peakHours" lists the two-hour slots where those changes happened most

Rules:
- Only use numbers present in the input; never invent data
- If a figure is zero because there is no data, say so instead of praising or criticizing it
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if focus != nil {
		data, _ := json.MarshalIndent(focus, "", "  ")
		sb.WriteString("Focus report:\n")
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	if habit != nil {
		data, _ := json.MarshalIndent(habit, "", "  ")
		sb.WriteString("Habit report:\n")
		sb.Write(data)
		sb.WriteString("\n")
	}
	if focus == nil && habit == nil {
		sb.WriteString("No reports are available for this window.\n")
	}
	user = sb.String()
	return
}

// Insight sends the reports to the LLM and returns its narrative.
func (c *Client) Insight(ctx context.Context, focus *stats.FocusReport, habit *stats.HabitReport) (*Insight, error) {
	systemPrompt, userPrompt := buildInsightPrompt(focus, habit)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
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

	return parseInsight(text)
}

func parseInsight(text string) (*Insight, error) {
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}
	text = stripFence(text)

	var insight Insight
	if err := json.Unmarshal([]byte(text), &insight); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return &insight, nil
}

// stripFence removes a surrounding markdown code fence, if present.
func stripFence(text string) string {
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
	return text
}
