// Package routing selects the model serving each request: task
// detection, constraint interpretation, and the filter-score-select
// router with deterministic fallback.
package routing

import (
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"asahi/internal/domain"
)

type taskPattern struct {
	re       *regexp.Regexp
	taskType string
	intent   string
}

var taskPatterns = []taskPattern{
	{
		regexp.MustCompile(`(?i)\b(summarize|summary|summarise|tldr|brief|overview|recap)\b`),
		"summarization", "Summarize content",
	},
	{
		regexp.MustCompile(`(?i)\b(why|explain|reason|analyze|analyse|because|cause|understand)\b`),
		"reasoning", "Explain or reason about something",
	},
	{
		regexp.MustCompile(`(?i)\b(how do i|what is|what are|who is|where is|when did|help with|tell me about)\b`),
		"faq", "Answer a factual question",
	},
	{
		regexp.MustCompile(`(?i)\b(write code|implement|function|class|def |import |python|javascript|typescript|java\b|debug|fix this code|refactor|algorithm)\b`),
		"coding", "Write or modify code",
	},
	{
		regexp.MustCompile(`(?i)\b(translate|convert to|in spanish|in french|in german|in japanese|in chinese|in korean|translation)\b`),
		"translation", "Translate text between languages",
	},
	{
		regexp.MustCompile(`(?i)\b(classify|categorize|categorise|sentiment|label|tag)\b`),
		"classification", "Classify or categorize content",
	},
	{
		regexp.MustCompile(`(?i)\b(write a poem|write a story|creative|haiku|limerick|fiction|compose|lyrics)\b`),
		"creative", "Generate creative content",
	},
	{
		regexp.MustCompile(`(?i)\b(legal|contract|statute|regulation|compliance|attorney|lawyer)\b`),
		"legal", "Legal analysis or review",
	},
}

// TaskDetector classifies a prompt's task type via keyword patterns.
// Confidence grows with the number of distinct pattern matches.
type TaskDetector struct {
	logger *slog.Logger
}

// NewTaskDetector creates a task detector.
func NewTaskDetector() *TaskDetector {
	return &TaskDetector{logger: slog.Default()}
}

// Detect classifies the prompt.
func (d *TaskDetector) Detect(prompt string) domain.TaskDetection {
	if strings.TrimSpace(prompt) == "" {
		return domain.TaskDetection{TaskType: "general", Confidence: 0.0, Intent: "Empty or blank prompt"}
	}

	type match struct {
		count  int
		intent string
	}
	matches := make(map[string]match)

	for _, p := range taskPatterns {
		found := p.re.FindAllString(prompt, -1)
		if len(found) == 0 {
			continue
		}
		if prev, ok := matches[p.taskType]; !ok || len(found) > prev.count {
			matches[p.taskType] = match{count: len(found), intent: p.intent}
		}
	}

	if len(matches) == 0 {
		return domain.TaskDetection{
			TaskType:   "general",
			Confidence: 0.1,
			Intent:     "No strong pattern match; defaulting to general",
		}
	}

	// Pick the task type with the most matches; ties resolve to the
	// lexicographically smaller type for determinism.
	types := make([]string, 0, len(matches))
	for t := range matches {
		types = append(types, t)
	}
	sort.Strings(types)
	best := types[0]
	for _, t := range types[1:] {
		if matches[t].count > matches[best].count {
			best = t
		}
	}

	confidence := math.Min(0.95, 0.3+float64(matches[best].count-1)*0.2)
	if len(matches) > 1 {
		confidence *= 0.9
	}
	confidence = math.Round(confidence*100) / 100

	d.logger.Debug("task type detected",
		"task_type", best, "confidence", confidence, "distinct_matches", len(matches))

	return domain.TaskDetection{
		TaskType:   best,
		Confidence: confidence,
		Intent:     matches[best].intent,
	}
}
