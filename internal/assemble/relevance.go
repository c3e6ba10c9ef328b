package assemble

import (
	"strings"

	"github.com/vampirenirmal/scribe/internal/codex"
)

// Relevance decides whether a callback or fact plausibly belongs in a bundle.
// The default is a cheap lexical heuristic; callers can substitute anything
// sharper without touching the assembler.
type Relevance interface {
	CallbackRelevant(cb *codex.Callback, scene *codex.Scene, present []*codex.Character) bool
	FactRelevant(f *codex.Fact, scene *codex.Scene) bool
}

// LexicalRelevance matches callbacks and facts by character names, aliases,
// and scene location appearing in their text.
type LexicalRelevance struct{}

func (LexicalRelevance) CallbackRelevant(cb *codex.Callback, scene *codex.Scene, present []*codex.Character) bool {
	text := strings.ToLower(cb.Name + " " + cb.SetupDescription + " " + cb.Notes)
	for _, c := range present {
		if containsFold(text, c.Name) {
			return true
		}
		for _, a := range c.Aliases {
			if containsFold(text, a) {
				return true
			}
		}
	}
	if scene != nil && scene.Location != "" && containsFold(text, scene.Location) {
		return true
	}
	// A scene that explicitly references the callback always includes it.
	if scene != nil {
		for _, id := range scene.CallbacksReferenced {
			if id == cb.ID {
				return true
			}
		}
	}
	return false
}

func (LexicalRelevance) FactRelevant(f *codex.Fact, scene *codex.Scene) bool {
	if scene == nil {
		return true
	}
	for _, id := range scene.FactsEstablished {
		if id == f.ID {
			return true
		}
	}
	if scene.Location != "" {
		if strings.EqualFold(f.Category, scene.Location) ||
			containsFold(f.Statement, scene.Location) {
			return true
		}
	}
	// World-level facts travel with every scene.
	return strings.EqualFold(f.Category, "world")
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
