// Package normalize turns free-text "Artist - Title" strings into canonical
// search queries: lowercasing, Cyrillic transliteration, diacritic folding,
// noise-word stripping. It also offers a best-effort reverse transliteration
// for cross-script search retries.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// cyrillicToLatin follows the common romanization used by Latin-indexed
// search backends. Multi-rune outputs ("щ" -> "shch") are allowed.
var cyrillicToLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'ґ': "g", 'д': "d",
	'е': "e", 'є': "ye", 'ё': "yo", 'ж': "zh", 'з': "z", 'и': "y",
	'і': "i", 'ї': "yi", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t",
	'у': "u", 'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh",
	'щ': "shch", 'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu",
	'я': "ya",
}

var latinFold = map[rune]rune{
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a',
	'ç': 'c', 'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i',
	'ñ': 'n', 'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o', 'ø': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u',
	'ý': 'y', 'ÿ': 'y', 'ß': 's', 'æ': 'a', 'œ': 'o',
}

var noiseWords = []string{
	"remastered", "remaster", "rerecorded", "re-recorded",
	"radio edit", "album version", "single version", "extended version",
	"deluxe edition", "bonus track", "official video", "official audio",
	"featuring", "feat", "ft", "live", "demo", "acoustic version",
}

var (
	bracketedRe  = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]`)
	disallowedRe = regexp.MustCompile(`[^a-z0-9\s-]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	noiseRe      *regexp.Regexp
)

func init() {
	// Whole-word alternation; longer phrases first so "radio edit" wins
	// over a later bare "radio" if one is ever added.
	escaped := make([]string, 0, len(noiseWords))
	for _, w := range noiseWords {
		escaped = append(escaped, regexp.QuoteMeta(w))
	}
	noiseRe = regexp.MustCompile(`\b(` + strings.Join(escaped, "|") + `)\b\.?`)
}

// Normalize canonicalizes a raw query. It never panics, returns "" for
// empty input, and is idempotent.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	lower := strings.ToLower(raw)
	lower = bracketedRe.ReplaceAllString(lower, " ")

	var sb strings.Builder
	sb.Grow(len(lower))
	for _, r := range lower {
		if latin, ok := cyrillicToLatin[r]; ok {
			sb.WriteString(latin)
			continue
		}
		if folded, ok := latinFold[r]; ok {
			sb.WriteRune(folded)
			continue
		}
		sb.WriteRune(r)
	}

	// Charset cleanup runs before noise stripping so punctuation-joined
	// tokens ("deluxe_edition") still match whole words, which keeps the
	// function idempotent.
	out := disallowedRe.ReplaceAllString(sb.String(), " ")
	out = whitespaceRe.ReplaceAllString(out, " ")
	out = noiseRe.ReplaceAllString(out, " ")
	out = strings.TrimSpace(whitespaceRe.ReplaceAllString(out, " "))
	for strings.HasPrefix(out, "the ") {
		out = strings.TrimPrefix(out, "the ")
	}
	return out
}

type reverseEntry struct {
	latin    string
	cyrillic string
}

// latinToCyrillic is the reverse table, ordered longest-first so "shch" is
// consumed before "sh" before "s". Ambiguous sequences ("y", "e") resolve by
// table order; this is a heuristic guess, not a guaranteed roundtrip.
var latinToCyrillic = []reverseEntry{
	{"shch", "щ"},
	{"kh", "х"}, {"ts", "ц"}, {"ch", "ч"}, {"sh", "ш"},
	{"zh", "ж"}, {"yu", "ю"}, {"ya", "я"}, {"yo", "ё"},
	{"ye", "є"}, {"yi", "ї"},
	{"a", "а"}, {"b", "б"}, {"v", "в"}, {"g", "г"}, {"d", "д"},
	{"e", "е"}, {"z", "з"}, {"i", "і"}, {"y", "и"}, {"k", "к"},
	{"l", "л"}, {"m", "м"}, {"n", "н"}, {"o", "о"}, {"p", "п"},
	{"r", "р"}, {"s", "с"}, {"t", "т"}, {"u", "у"}, {"f", "ф"},
}

// GuessOriginalScript reconstructs a Cyrillic guess from a Latin query for a
// second-stage search. Returns false when the input already contains
// Cyrillic, or when the guess is unchanged or too short to be useful.
func GuessOriginalScript(latin string) (string, bool) {
	if latin == "" {
		return "", false
	}
	for _, r := range latin {
		if unicode.Is(unicode.Cyrillic, r) {
			return "", false
		}
	}

	lower := strings.ToLower(latin)
	var sb strings.Builder
	i := 0
	for i < len(lower) {
		matched := false
		for _, entry := range latinToCyrillic {
			if strings.HasPrefix(lower[i:], entry.latin) {
				sb.WriteString(entry.cyrillic)
				i += len(entry.latin)
				matched = true
				break
			}
		}
		if !matched {
			sb.WriteByte(lower[i])
			i++
		}
	}

	guess := sb.String()
	if guess == lower {
		return "", false
	}
	if len([]rune(guess)) <= 2 {
		return "", false
	}
	return guess, true
}
