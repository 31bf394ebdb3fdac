package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DecodeJSONResponse unmarshals an LLM response into v, handling markdown code blocks.
func DecodeJSONResponse(text string, v any) error {
	text = stripCodeFence(strings.TrimSpace(text))
	if text == "" {
		return fmt.Errorf("empty response")
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		zap.L().Debug("Failed to parse LLM response as JSON", zap.Error(err))
		return err
	}
	return nil
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx < 1 {
		return ""
	}
	return strings.Join(lines[1:endIdx], "\n")
}
