package gemini

import (
	"encoding/json"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	bulletRe        = regexp.MustCompile(`(?m)^\s*[-*•]\s*`)
	fenceRe         = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
	trailingCommaRe = regexp.MustCompile(`,\s*\]`)
)

// ParseTrackList extracts the string items from a model's raw output. It
// never returns an error: any unrecoverable malformation is logged and
// yields an empty slice, which the orchestrator treats as "zero
// recommendations".
func ParseTrackList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	cleaned := bulletRe.ReplaceAllString(raw, "")
	cleaned = fenceRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	// Models occasionally emit a trailing comma before the closing bracket.
	cleaned = trailingCommaRe.ReplaceAllString(cleaned, "]")

	var items []any
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		log.Warnf("Failed to parse model output as JSON array: %v", err)
		log.Debugf("raw output: %q", raw)
		log.Debugf("cleaned output: %q", cleaned)
		return nil
	}

	out := make([]string, 0, len(items))
	dropped := 0
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			dropped++
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			dropped++
			continue
		}
		out = append(out, s)
	}
	if dropped > 0 {
		log.Warnf("Dropped %d non-string or empty items from model output", dropped)
	}
	return out
}
