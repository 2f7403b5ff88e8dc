package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
costs:
  question: 4
  structured_question: 6
  exam: 10
  audio: 8
subjects:
  - name: Mathematics
    topics: [Algebra, Calculus]
  - name: Physics
    topics: [Mechanics]
questions:
  Algebra:
    - text: "Solve for x: 2x + 3 = 11"
      answer: "4"
    - text: "Factorise x^2 - 9"
      answer: "(x-3)(x+3)"
fallbacks:
  Algebra:
    text: "Simplify 3x + 2x"
    answer: "5x"
  default:
    text: "What is 7 * 8?"
    answer: "56"
texts:
  welcome: "Welcome to NerdX!"
  menu: "1. Ask a question\n2. Check balance"
  help: "Reply with a menu number."
  maintenance: "We are down for maintenance, back soon."
  consent: "Reply YES to accept the terms."
`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	assert.EqualValues(t, 4, c.Cost("question"))
	assert.EqualValues(t, 0, c.Cost("menu"), "unknown actions must be free")

	topics, ok := c.TopicsFor("mathematics")
	require.True(t, ok)
	assert.Len(t, topics, 2)

	assert.True(t, c.HasTopic("calculus"), "topic lookup must be case-insensitive")
	assert.False(t, c.HasTopic("Astrology"))
	assert.Len(t, c.Candidates("Algebra"), 2)
	assert.NotEmpty(t, c.Texts.Maintenance)
}

func TestCanonicalResolvesCase(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	canonical, ok := c.Canonical("algebra")
	require.True(t, ok)
	assert.Equal(t, "Algebra", canonical)

	// bank and topic fallback are keyed on the canonical form
	assert.Len(t, c.Candidates(canonical), 2)
	q, ok := c.Fallback(canonical)
	require.True(t, ok)
	assert.Equal(t, "5x", q.Answer)

	_, ok = c.Canonical("Astrology")
	assert.False(t, ok)
}

func TestFallbackPrecedence(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	q, ok := c.Fallback("Algebra")
	require.True(t, ok)
	assert.Equal(t, "5x", q.Answer, "topic fallback wins")

	q, ok = c.Fallback("Mechanics")
	require.True(t, ok)
	assert.Equal(t, "56", q.Answer, "default fallback covers unknown topics")
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no subjects":   `costs: {question: 4}`,
		"empty topics":  "subjects:\n  - name: Maths\n    topics: []",
		"negative cost": "costs: {question: -1}\nsubjects:\n  - name: Maths\n    topics: [Algebra]",
		"bad yaml":      `{{`,
	}
	for name, body := range cases {
		_, err := Load(writeCatalog(t, body))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
