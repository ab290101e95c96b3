package splitter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCount is the token counter used throughout: one token per word.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

// normalize collapses all whitespace so reconstruction can be compared.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func TestSplit_ContentWithinBudgetIsIdentity(t *testing.T) {
	content := "A short note about gardening. Tomatoes need sun."

	chunks := Split(content, 50, wordCount)

	require.Equal(t, []string{content}, chunks)
}

func TestSplit_EmptyContentYieldsNothing(t *testing.T) {
	assert.Empty(t, Split("", 10, wordCount))
	assert.Empty(t, Split("   \n\t  ", 10, wordCount))
}

func TestSplit_HeaderSections(t *testing.T) {
	// Given: two sections, each within budget, whole document over budget
	content := "# Alpha\n" + strings.Repeat("alpha words here. ", 10) +
		"\n# Beta\n" + strings.Repeat("beta words here. ", 10)
	require.Greater(t, wordCount(content), 32)

	// When: splitting with a budget that fits one section
	chunks := Split(content, 32, wordCount)

	// Then: the split follows the header boundaries
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasPrefix(chunks[0], "# Alpha"))
	assert.True(t, strings.HasPrefix(chunks[1], "# Beta"))
}

func TestSplit_NestedHeadersRecurse(t *testing.T) {
	sub := func(name string) string {
		return "## " + name + "\n" + strings.Repeat(name+" sentence here. ", 8)
	}
	content := "# Top\nintro text here.\n" + sub("one") + "\n" + sub("two")

	chunks := Split(content, 30, wordCount)

	require.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, wordCount(c), 30)
	}
	assert.Equal(t, normalize(content), normalize(strings.Join(chunks, " ")))
}

func TestSplit_SentenceFallback(t *testing.T) {
	// No headers: sentences are the split unit.
	var b strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "Sentence number %d has exactly seven words total. ", i)
	}
	content := b.String()

	chunks := Split(content, 20, wordCount)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, wordCount(c), 20)
	}
	assert.Equal(t, normalize(content), normalize(strings.Join(chunks, " ")))
}

func TestSplit_PunctuationFreeDegradesToWordBisection(t *testing.T) {
	// Given: a 2000-word string with no sentence punctuation
	words := make([]string, 2000)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	content := strings.Join(words, " ")

	// When: splitting with maxTokens=100
	chunks := Split(content, 100, wordCount)

	// Then: every chunk fits, and the count is on the order of total/budget
	// (binary bisection yields chunks between budget/2 and budget)
	for _, c := range chunks {
		assert.LessOrEqual(t, wordCount(c), 100)
	}
	assert.GreaterOrEqual(t, len(chunks), 20)
	assert.LessOrEqual(t, len(chunks), 40)

	// And: nothing was lost
	assert.Equal(t, normalize(content), normalize(strings.Join(chunks, " ")))
}

func TestSplit_OversizedSingleWordReturnedUnsplit(t *testing.T) {
	// A counter that charges 10 tokens for any text forces an over-budget
	// single word; it must come back unsplit (no sub-word splitting).
	expensive := func(string) int { return 10 }

	chunks := Split("supercalifragilistic", 1, expensive)

	require.Equal(t, []string{"supercalifragilistic"}, chunks)
}

func TestSplit_OversizedSingleSentenceSplitsIntoWords(t *testing.T) {
	content := "one two three four five six seven eight"

	chunks := Split(content, 3, wordCount)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, wordCount(c), 3)
	}
	assert.Equal(t, normalize(content), normalize(strings.Join(chunks, " ")))
}

func TestSplit_Deterministic(t *testing.T) {
	content := "# H\n" + strings.Repeat("alpha beta gamma. ", 40)

	first := Split(content, 17, wordCount)
	second := Split(content, 17, wordCount)

	assert.Equal(t, first, second)
}

func TestSplitSentences_BoundaryHandling(t *testing.T) {
	sentences := splitSentences(`First one. Second one! Third ("quoted")? Tail without end`)

	require.Len(t, sentences, 4)
	assert.Equal(t, "First one.", sentences[0])
	assert.Equal(t, "Second one!", sentences[1])
	assert.Equal(t, "Tail without end", sentences[3])
}
