// Package taxonomy loads the declarative category mapping used for section
// placement and classification. The taxonomy is read once at startup and is
// read-only afterwards, so it is safe to share across goroutines.
package taxonomy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/shopsync/internal/synerr"
)

// FallbackKey is the reserved catch-all category. It must be present in the
// taxonomy document; classification failures and unrecognized labels land here.
const FallbackKey = "other"

// Category is one aisle/section entry.
type Category struct {
	Key      string   // unique snake_case identity, e.g. "meat_seafood"
	Emoji    string   // display emoji for the section name
	Priority int      // section ordering; lower sorts first
	Keywords []string // classification hints
}

// DisplayName renders the key in title case ("meat_seafood" -> "Meat Seafood").
func (c Category) DisplayName() string {
	return titleCaser.String(strings.ReplaceAll(c.Key, "_", " "))
}

// SectionName is the remote section this category maps to, e.g. "🥩 Meat Seafood".
// Keeping the rendering here means the adapter and engine can never disagree
// on which section belongs to which category.
func (c Category) SectionName() string {
	if c.Emoji == "" {
		return c.DisplayName()
	}
	return c.Emoji + " " + c.DisplayName()
}

var titleCaser = cases.Title(language.English)

// Taxonomy is the validated, ordered category set.
type Taxonomy struct {
	ordered []Category
	byKey   map[string]Category // lowercased key -> category
	byAlias map[string]string   // lowercased display/section name -> key
}

type document struct {
	Categories map[string]entry `yaml:"categories"`
}

type entry struct {
	Emoji    string   `yaml:"emoji"`
	Priority int      `yaml:"priority"`
	Keywords []string `yaml:"keywords"`
}

// Load reads and validates a taxonomy document. All failures are
// synerr.KindConfig: a broken taxonomy is fatal at startup.
func Load(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, synerr.Wrap(synerr.KindConfig, "read taxonomy", err)
	}
	return Parse(data)
}

// Parse validates raw YAML into a Taxonomy.
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, synerr.Wrap(synerr.KindConfig, "unmarshal taxonomy", err)
	}
	if len(doc.Categories) == 0 {
		return nil, synerr.New(synerr.KindConfig, "taxonomy has no categories")
	}

	tx := &Taxonomy{
		byKey:   make(map[string]Category, len(doc.Categories)),
		byAlias: make(map[string]string, len(doc.Categories)*2),
	}
	seenPriority := make(map[int]string, len(doc.Categories))

	for key, e := range doc.Categories {
		norm := strings.ToLower(strings.TrimSpace(key))
		if norm == "" {
			return nil, synerr.New(synerr.KindConfig, "taxonomy has an empty category key")
		}
		if _, dup := tx.byKey[norm]; dup {
			return nil, synerr.Newf(synerr.KindConfig, "duplicate category key %q", norm)
		}
		if e.Priority <= 0 {
			return nil, synerr.Newf(synerr.KindConfig, "category %q: priority must be a positive integer", norm)
		}
		if prev, dup := seenPriority[e.Priority]; dup {
			return nil, synerr.Newf(synerr.KindConfig, "categories %q and %q share priority %d", prev, norm, e.Priority)
		}
		seenPriority[e.Priority] = norm

		cat := Category{Key: norm, Emoji: e.Emoji, Priority: e.Priority, Keywords: e.Keywords}
		tx.byKey[norm] = cat
		tx.byAlias[strings.ToLower(cat.DisplayName())] = norm
		tx.byAlias[strings.ToLower(cat.SectionName())] = norm
		tx.ordered = append(tx.ordered, cat)
	}

	if _, ok := tx.byKey[FallbackKey]; !ok {
		return nil, synerr.Newf(synerr.KindConfig, "taxonomy is missing the reserved %q fallback category", FallbackKey)
	}

	sort.Slice(tx.ordered, func(i, j int) bool {
		if tx.ordered[i].Priority != tx.ordered[j].Priority {
			return tx.ordered[i].Priority < tx.ordered[j].Priority
		}
		return tx.ordered[i].Key < tx.ordered[j].Key
	})
	return tx, nil
}

// Resolve performs a case-insensitive exact match against keys, display
// names, and section names. The second return is false for unknown labels.
func (t *Taxonomy) Resolve(label string) (Category, bool) {
	norm := strings.ToLower(strings.TrimSpace(label))
	if norm == "" {
		return Category{}, false
	}
	if cat, ok := t.byKey[norm]; ok {
		return cat, true
	}
	if key, ok := t.byAlias[norm]; ok {
		return t.byKey[key], true
	}
	return Category{}, false
}

// Fallback returns the reserved catch-all category.
func (t *Taxonomy) Fallback() Category { return t.byKey[FallbackKey] }

// Ordered returns categories sorted by priority (stable section placement).
// Callers must not mutate the returned slice.
func (t *Taxonomy) Ordered() []Category { return t.ordered }

// Len is the number of categories.
func (t *Taxonomy) Len() int { return len(t.ordered) }

// PromptList renders the category set for the classifier prompt, one line
// per category with up to five keyword hints.
func (t *Taxonomy) PromptList() string {
	var b strings.Builder
	for _, c := range t.ordered {
		fmt.Fprintf(&b, "- %s", c.Key)
		if len(c.Keywords) > 0 {
			hints := c.Keywords
			if len(hints) > 5 {
				hints = hints[:5]
			}
			fmt.Fprintf(&b, " (e.g. %s)", strings.Join(hints, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
