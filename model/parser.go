package model

import (
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no valid json found")

// ExtractJSON returns the span from the first '{' to the last '}'.
func ExtractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start == -1 || end == -1 || end <= start {
		return s, errNoJSON
	}

	return s[start : end+1], nil
}

// RepairPrompt asks the model to fix its own malformed JSON.
func RepairPrompt(badOutput, schema string) string {
	return fmt.Sprintf(`
You previously returned an invalid JSON.

Your task is to FIX the JSON so it matches this structure:
%s

RULES:
- Output ONLY valid JSON
- Do NOT add or remove information
- Do NOT add explanations
- Do NOT include markdown
- Do NOT include text outside JSON

INVALID OUTPUT:
<<<
%s
>>>

Return the corrected JSON only.
`, schema, badOutput)
}
