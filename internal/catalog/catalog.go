// Package catalog loads the bot's content catalog: credit costs per action,
// the subject/topic tree, question banks used as generation candidates, and
// user-facing menu text. The catalog is read once at startup.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Question is a single tutoring question with its expected answer.
type Question struct {
	Text        string `yaml:"text"`
	Answer      string `yaml:"answer"`
	Explanation string `yaml:"explanation,omitempty"`
}

// Subject groups topics under a display name.
type Subject struct {
	Name   string   `yaml:"name"`
	Topics []string `yaml:"topics"`
}

// Texts holds the static user-facing copy.
type Texts struct {
	Welcome     string `yaml:"welcome"`
	Menu        string `yaml:"menu"`
	Help        string `yaml:"help"`
	Maintenance string `yaml:"maintenance"`
	Consent     string `yaml:"consent"`
}

// Catalog is the parsed catalog file.
type Catalog struct {
	Costs     map[string]int64      `yaml:"costs"`
	Subjects  []Subject             `yaml:"subjects"`
	Questions map[string][]Question `yaml:"questions"`
	Fallbacks map[string]Question   `yaml:"fallbacks"`
	Texts     Texts                 `yaml:"texts"`
}

// Load reads and validates the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Subjects) == 0 {
		return fmt.Errorf("no subjects defined")
	}
	for _, s := range c.Subjects {
		if s.Name == "" {
			return fmt.Errorf("subject with empty name")
		}
		if len(s.Topics) == 0 {
			return fmt.Errorf("subject %q has no topics", s.Name)
		}
	}
	for action, cost := range c.Costs {
		if cost < 0 {
			return fmt.Errorf("action %q has negative cost %d", action, cost)
		}
	}
	for topic, qs := range c.Questions {
		for i, q := range qs {
			if q.Text == "" {
				return fmt.Errorf("topic %q question %d has empty text", topic, i)
			}
		}
	}
	return nil
}

// Cost returns the credit cost of an action. Unknown actions are free.
func (c *Catalog) Cost(actionKey string) int64 {
	return c.Costs[actionKey]
}

// TopicsFor returns the topics under a subject, matched case-insensitively.
func (c *Catalog) TopicsFor(subject string) ([]string, bool) {
	for _, s := range c.Subjects {
		if strings.EqualFold(s.Name, subject) {
			return s.Topics, true
		}
	}
	return nil, false
}

// Canonical resolves a topic to its catalog spelling, matched
// case-insensitively. Question banks, fallbacks and content history all key
// on the canonical form, so callers must resolve user input through here
// before any lookup.
func (c *Catalog) Canonical(topic string) (string, bool) {
	for _, s := range c.Subjects {
		for _, t := range s.Topics {
			if strings.EqualFold(t, topic) {
				return t, true
			}
		}
	}
	return "", false
}

// HasTopic reports whether the topic exists under any subject.
func (c *Catalog) HasTopic(topic string) bool {
	_, ok := c.Canonical(topic)
	return ok
}

// Candidates returns the question bank for a topic. The bank seeds
// anti-repetition selection before any generated content is considered.
func (c *Catalog) Candidates(topic string) []Question {
	return c.Questions[topic]
}

// Fallback returns the deterministic question served when generation fails.
// A topic-specific fallback wins over the catalog-wide "default" entry.
func (c *Catalog) Fallback(topic string) (Question, bool) {
	if q, ok := c.Fallbacks[topic]; ok {
		return q, true
	}
	q, ok := c.Fallbacks["default"]
	return q, ok
}
