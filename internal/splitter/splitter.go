// Package splitter divides note text into token-bounded chunks.
//
// Splitting prefers structure: markdown-style headers first, then sentence
// boundaries, then recursive binary splitting of the remaining units. Output
// is deterministic for identical inputs and collectively covers the input
// (whitespace normalization permitted).
package splitter

import (
	"regexp"
	"strings"
)

// TokenCounter reports the token cost of a piece of text. The counter comes
// from the active embedding provider, so budgets match the model's tokenizer
// (or its conservative approximation).
type TokenCounter func(text string) int

// headerPattern matches markdown headers: # Title, ## Title, etc.
var headerPattern = regexp.MustCompile(`^(#{1,6})\s+\S`)

// sentenceBoundary matches sentence-ending punctuation followed by whitespace.
var sentenceBoundary = regexp.MustCompile(`[.!?]+[)"']*\s+`)

// Split divides content into ordered chunks, each as close to maxTokens as
// possible without exceeding it. A single unit that cannot be divided further
// (one word, or one sentence with no spaces) is returned unsplit even when it
// exceeds the budget; there is no sub-word splitting. Empty content yields nil.
func Split(content string, maxTokens int, countTokens TokenCounter) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if maxTokens < 1 {
		maxTokens = 1
	}

	if countTokens(content) <= maxTokens {
		return []string{content}
	}

	var chunks []string
	for _, region := range splitByHeaders(content) {
		chunks = append(chunks, splitRegion(region, maxTokens, countTokens)...)
	}
	return chunks
}

// splitRegion handles one structural region: header recursion first, then
// sentence units, then binary splitting.
func splitRegion(region string, maxTokens int, countTokens TokenCounter) []string {
	trimmed := strings.TrimSpace(region)
	if trimmed == "" {
		return nil
	}
	if countTokens(trimmed) <= maxTokens {
		return []string{trimmed}
	}

	// An over-budget section may contain sub-headers of its own.
	if regions := splitByHeaders(trimmed); len(regions) > 1 {
		var chunks []string
		for _, sub := range regions {
			chunks = append(chunks, splitRegion(sub, maxTokens, countTokens)...)
		}
		return chunks
	}

	units := splitSentences(trimmed)
	if len(units) <= 1 {
		units = strings.Fields(trimmed)
	}
	if len(units) <= 1 {
		// A single indivisible unit is returned unsplit.
		return []string{trimmed}
	}

	return bisect(units, maxTokens, countTokens)
}

// bisect recursively halves the unit list until each joined half fits the
// budget. Each call strictly shrinks the unit count, so it always terminates;
// recursion depth is O(log n) when token mass is roughly balanced.
func bisect(units []string, maxTokens int, countTokens TokenCounter) []string {
	if len(units) == 0 {
		return nil
	}

	joined := strings.Join(units, " ")
	if countTokens(joined) <= maxTokens {
		return []string{joined}
	}

	if len(units) == 1 {
		// One sentence over budget: degrade to word units before giving up.
		words := strings.Fields(units[0])
		if len(words) > 1 {
			return bisect(words, maxTokens, countTokens)
		}
		return []string{units[0]}
	}

	mid := len(units) / 2
	out := bisect(units[:mid], maxTokens, countTokens)
	return append(out, bisect(units[mid:], maxTokens, countTokens)...)
}

// splitByHeaders splits content on the shallowest header level that produces
// more than one region. A single top-level header over the whole document is
// skipped in favor of its sub-headers. Returns the whole content as a single
// region when no level divides it.
func splitByHeaders(content string) []string {
	lines := strings.Split(content, "\n")

	for level := 1; level <= 6; level++ {
		regions := splitAtLevel(lines, level)
		if len(regions) > 1 {
			return regions
		}
	}
	return []string{content}
}

// splitAtLevel cuts the lines before every header of exactly the given level.
func splitAtLevel(lines []string, level int) []string {
	var regions []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			region := strings.Join(current, "\n")
			if strings.TrimSpace(region) != "" {
				regions = append(regions, region)
			}
			current = nil
		}
	}

	for _, line := range lines {
		if m := headerPattern.FindStringSubmatch(line); m != nil && len(m[1]) == level {
			flush()
		}
		current = append(current, line)
	}
	flush()

	return regions
}

// splitSentences splits text into sentence units at sentence-ending
// punctuation followed by whitespace. The punctuation stays attached to the
// preceding sentence.
func splitSentences(text string) []string {
	boundaries := sentenceBoundary.FindAllStringIndex(text, -1)
	if len(boundaries) == 0 {
		return []string{text}
	}

	var sentences []string
	start := 0
	for _, b := range boundaries {
		// Cut after the punctuation run, before the trailing whitespace.
		end := b[1]
		for end > b[0] && isSpace(text[end-1]) {
			end--
		}
		sentence := strings.TrimSpace(text[start:end])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = b[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
