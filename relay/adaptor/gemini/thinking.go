package gemini

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/llmux/llmux/relay/model"
)

// thinkSuffixRe matches the "-think-<budget>" alias suffix clients use to
// request an explicit reasoning budget.
var thinkSuffixRe = regexp.MustCompile(`.*-think-(-?\d+)$`)

// thinkingConfig derives the thinkingConfig for a request. The alias is the
// client-facing model name carrying the optional -think-N suffix; the actual
// model decides the clamp range.
func thinkingConfig(alias, actualModel string) *model.GeminiThinkingConfig {
	if !strings.Contains(actualModel, "gemini-2.5") || strings.Contains(actualModel, "gemini-2.5-flash-image") {
		return nil
	}
	match := thinkSuffixRe.FindStringSubmatch(alias)
	if match == nil {
		return &model.GeminiThinkingConfig{IncludeThoughts: true}
	}
	requested, err := strconv.Atoi(match[1])
	if err != nil {
		return &model.GeminiThinkingConfig{IncludeThoughts: true}
	}
	budget := clampThinkingBudget(actualModel, requested)
	return &model.GeminiThinkingConfig{
		IncludeThoughts: budget != 0,
		ThinkingBudget:  &budget,
	}
}

func clampThinkingBudget(actualModel string, requested int) int {
	switch {
	case strings.Contains(actualModel, "gemini-2.5-pro"):
		if requested < 128 {
			return 128
		}
		if requested > 32768 {
			return 32768
		}
		return requested
	case strings.Contains(actualModel, "gemini-2.5-flash-lite"):
		if requested <= 0 {
			return 0
		}
		if requested < 512 {
			return 512
		}
		if requested > 24576 {
			return 24576
		}
		return requested
	default:
		if requested < 0 {
			return 0
		}
		if requested > 24576 {
			return 24576
		}
		return requested
	}
}
