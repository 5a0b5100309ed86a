package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/stats"
)

func TestBuildInsightPrompt(t *testing.T) {
	t.Run("with both reports", func(t *testing.T) {
		focus := &stats.FocusReport{Window: stats.WindowWeek, FocusIndex: 72, AvgFocusTime: 48.5}
		habit := &stats.HabitReport{Window: stats.WindowWeek, TotalTasksCreated: 4, ProblematicEventRatio: 25}
		system, user := buildInsightPrompt(focus, habit)

		assert.Contains(t, system, "JSON object")
		assert.Contains(t, system, `"summary"`)
		assert.Contains(t, system, `"suggestions"`)
		assert.Contains(t, system, "focusIndex")

		assert.Contains(t, user, "Focus report:")
		assert.Contains(t, user, `"focusIndex": 72`)
		assert.Contains(t, user, "Habit report:")
		assert.Contains(t, user, `"problematicEventRatio": 25`)
	})

	t.Run("focus only", func(t *testing.T) {
		_, user := buildInsightPrompt(&stats.FocusReport{}, nil)
		assert.Contains(t, user, "Focus report:")
		assert.NotContains(t, user, "Habit report:")
	})

	t.Run("no reports", func(t *testing.T) {
		_, user := buildInsightPrompt(nil, nil)
		assert.Contains(t, user, "No reports")
	})

	t.Run("system prompt forbids invented data", func(t *testing.T) {
		system, _ := buildInsightPrompt(nil, nil)
		assert.Contains(t, system, "never invent data")
	})
}

func TestParseInsight(t *testing.T) {
	t.Run("plain JSON", func(t *testing.T) {
		in, err := parseInsight(`{"summary":"Solid week.","strengths":["steady mornings"],"suggestions":["shorter blocks"]}`)
		require.NoError(t, err)
		assert.Equal(t, "Solid week.", in.Summary)
		assert.Equal(t, []string{"steady mornings"}, in.Strengths)
		assert.Equal(t, []string{"shorter blocks"}, in.Suggestions)
	})

	t.Run("fenced JSON", func(t *testing.T) {
		in, err := parseInsight("```json\n{\"summary\":\"ok\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "ok", in.Summary)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := parseInsight("")
		assert.Error(t, err)
	})

	t.Run("not JSON", func(t *testing.T) {
		_, err := parseInsight("Great job!")
		assert.Error(t, err)
	})
}
