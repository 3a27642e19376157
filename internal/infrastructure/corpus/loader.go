// Package corpus loads the reference card set from disk at startup.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
)

// Load reads every *.json card file under dir, sorted by filename so the
// corpus order is stable across restarts. Card ids must be unique.
func Load(dir string) ([]domain.Card, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	cards := make([]domain.Card, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read card %s: %w", path, err)
		}

		var card domain.Card
		if err := json.Unmarshal(data, &card); err != nil {
			return nil, fmt.Errorf("parse card %s: %w", path, err)
		}
		if strings.TrimSpace(card.ID) == "" {
			return nil, fmt.Errorf("card %s: missing id", path)
		}
		if strings.TrimSpace(card.Title) == "" {
			return nil, fmt.Errorf("card %s: missing title", path)
		}
		if prev, ok := seen[card.ID]; ok {
			return nil, fmt.Errorf("card %s: duplicate id %q (first seen in %s)", path, card.ID, prev)
		}
		seen[card.ID] = name

		card.Content = RenderContent(card)
		cards = append(cards, card)
	}

	if len(cards) == 0 {
		return nil, fmt.Errorf("corpus dir %s contains no card files", dir)
	}
	return cards, nil
}

// RenderContent builds the natural-language card body that gets embedded
// and injected into prompts.
func RenderContent(card domain.Card) string {
	hint := strings.TrimSpace(card.ESIHint)
	if hint == "" {
		hint = "-"
	}

	var b strings.Builder
	b.WriteString(card.Title)
	b.WriteString("\nESI hint: ")
	b.WriteString(hint)
	b.WriteString("\nRed flags:")
	writeBullets(&b, card.RedFlags)
	b.WriteString("\nImmediate actions:")
	writeBullets(&b, card.Actions)
	b.WriteString("\nQuestions to ask next:")
	writeBullets(&b, card.NextQuestions)
	return b.String()
}

func writeBullets(b *strings.Builder, items []string) {
	for _, item := range items {
		b.WriteString("\n- ")
		b.WriteString(item)
	}
}
