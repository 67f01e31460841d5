package gemini

import (
	"fmt"
	"strings"
	"time"
)

// RecommendationOptions carries the policy knobs embedded in the
// recommendation prompt. The mix share and regional quota are soft targets
// communicated to the model; the pipeline never enforces them on the output.
type RecommendationOptions struct {
	Count           int
	DiscoveryShare  int
	RegionalQuota   int
	RegionalScene   string
	ExcludeLanguage string
}

// BuildRecommendationPrompt assembles the taste-based recommendation prompt.
// The "JSON array only" instruction is a load-bearing contract: downstream
// parsing tolerates fences but cannot survive surrounding prose reliably.
func BuildRecommendationPrompt(sampleJSON string, today time.Time, opts RecommendationOptions) string {
	closeShare := 100 - opts.DiscoveryShare

	var sb strings.Builder
	fmt.Fprintf(&sb, "Today is %s. Here is a random sample of songs the listener has saved:\n\n", today.Format("2006-01-02"))
	sb.WriteString(sampleJSON)
	fmt.Fprintf(&sb, "\n\nRecommend exactly %d songs this listener does not have yet.\n", opts.Count)
	sb.WriteString("Rules:\n")
	sb.WriteString("- Never repeat a song from the sample above.\n")
	sb.WriteString("- Prioritize artists that do not appear in the sample at all.\n")
	fmt.Fprintf(&sb, "- Aim for roughly %d%% close to the listener's taste and %d%% adjacent discoveries slightly outside it.\n",
		closeShare, opts.DiscoveryShare)
	if opts.RegionalQuota > 0 && opts.RegionalScene != "" {
		fmt.Fprintf(&sb, "- Reserve about %d%% of the list for %s artists.\n", opts.RegionalQuota, opts.RegionalScene)
	}
	if opts.ExcludeLanguage != "" {
		fmt.Fprintf(&sb, "- Do not include any songs performed in %s.\n", opts.ExcludeLanguage)
	}
	sb.WriteString("\nRespond with ONLY a JSON array of strings, each formatted as \"Artist - Title\".\n")
	sb.WriteString("No markdown fences, no numbering, no explanation, no text outside the array.")
	return sb.String()
}

// BuildTopicPrompt is the generator-variant prompt for a free-text topic or a
// source-playlist description.
func BuildTopicPrompt(topic string, count int, excludeLanguage string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Build a playlist of exactly %d songs for this theme:\n\n%s\n\n", count, topic)
	sb.WriteString("Pick well-matched songs across eras and scenes; avoid filler and obvious duplicates.\n")
	if excludeLanguage != "" {
		fmt.Fprintf(&sb, "Do not include any songs performed in %s.\n", excludeLanguage)
	}
	sb.WriteString("\nRespond with ONLY a JSON array of strings, each formatted as \"Artist - Title\".\n")
	sb.WriteString("No markdown fences, no numbering, no explanation, no text outside the array.")
	return sb.String()
}

// BuildImagePrompt asks for a single text-to-image prompt describing cover
// art that matches the mood of a track sample.
func BuildImagePrompt(trackSampleLines string) string {
	var sb strings.Builder
	sb.WriteString("Here is a sample of songs from a playlist:\n\n")
	sb.WriteString(trackSampleLines)
	sb.WriteString("\n\nWrite ONE text-to-image prompt, in English, under 140 words, ")
	sb.WriteString("describing album cover art that captures the overall mood of these songs. ")
	sb.WriteString("Be technically specific: art style, composition, lighting, color palette, atmosphere keywords. ")
	sb.WriteString("No text or lettering in the image.\n")
	sb.WriteString("Respond with the prompt text only. No markdown fences, no explanation, no commentary.")
	return sb.String()
}

// BuildTitlePrompt distills a long topic into a short playlist name.
func BuildTitlePrompt(longTopic string) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following topic as a 2-3 word playlist title, in the same language as the topic:\n\n")
	sb.WriteString(longTopic)
	sb.WriteString("\n\nRespond with the title only. No quotation marks, no markdown fences, no explanation.")
	return sb.String()
}
