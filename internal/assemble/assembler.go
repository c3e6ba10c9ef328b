// Package assemble builds the bounded context bundle handed to a generation
// step. A bundle is a pure function of codex state: two calls with no
// intervening mutation produce identical bundles.
package assemble

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vampirenirmal/scribe/internal/codex"
)

// Target names the chapter, and optionally the scene, a step will generate.
// Scene 0 targets the chapter as a whole.
type Target struct {
	Chapter int `json:"chapter"`
	Scene   int `json:"scene,omitempty"`
}

func (t Target) String() string {
	if t.Scene == 0 {
		return fmt.Sprintf("chapter %d", t.Chapter)
	}
	return fmt.Sprintf("chapter %d, scene %d", t.Chapter, t.Scene)
}

// OutlineProvider is the external outline/world-data collaborator.
type OutlineProvider interface {
	Outline(ctx context.Context, chapter int) (string, error)
	WorldFacts(ctx context.Context, locationOrCategory string) ([]*codex.Fact, error)
}

// CharacterContext is one present character's slice of the codex, resolved at
// the target chapter.
type CharacterContext struct {
	Name          string                        `json:"name"`
	Role          string                        `json:"role,omitempty"`
	Traits        []string                      `json:"traits,omitempty"`
	Snapshot      *codex.AttributeSnapshot      `json:"snapshot,omitempty"`
	Emotions      map[int][]codex.EmotionRecord `json:"emotions,omitempty"`
	Memories      []codex.Memory                `json:"memories,omitempty"`
	Relationships map[string]codex.Relationship `json:"relationships,omitempty"`
	Milestones    []codex.ArcMilestone          `json:"milestones,omitempty"`
}

// Bundle is the assembled context for one generation step: a flat mapping
// from named sections to resolved content.
type Bundle struct {
	Target        Target             `json:"target"`
	Outline       string             `json:"outline,omitempty"`
	Scene         *codex.Scene       `json:"scene,omitempty"`
	PreviousScene string             `json:"previous_scene,omitempty"`
	Characters    []CharacterContext `json:"characters,omitempty"`
	OpenCallbacks []*codex.Callback  `json:"open_callbacks,omitempty"`
	Facts         []*codex.Fact      `json:"facts,omitempty"`
}

// Sections returns the bundle as a flat section-name map, for prompt
// templating and for resolving declared step inputs.
func (b *Bundle) Sections() map[string]any {
	return map[string]any{
		"target":         b.Target,
		"outline":        b.Outline,
		"scene":          b.Scene,
		"previous_scene": b.PreviousScene,
		"characters":     b.Characters,
		"open_callbacks": b.OpenCallbacks,
		"facts":          b.Facts,
	}
}

// Render serializes the bundle for handoff to the generation capability.
func (b *Bundle) Render() (string, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering bundle: %w", err)
	}
	return string(data), nil
}

// Limits bounds the bundle's working size, per section.
type Limits struct {
	MaxCallbacks     int
	MaxFacts         int
	MaxMemories      int
	MaxPreviousWords int
}

// DefaultLimits mirrors a comfortable prompt budget.
func DefaultLimits() Limits {
	return Limits{
		MaxCallbacks:     10,
		MaxFacts:         15,
		MaxMemories:      8,
		MaxPreviousWords: 3000,
	}
}

// Assembler resolves targets into bundles against one project's codex.
type Assembler struct {
	store     *codex.Store
	outline   OutlineProvider // optional
	relevance Relevance
	limits    Limits
	logger    *zap.Logger
}

// New creates an assembler. outline may be nil; relevance defaults to
// LexicalRelevance.
func New(store *codex.Store, outline OutlineProvider, relevance Relevance, limits Limits, logger *zap.Logger) *Assembler {
	if relevance == nil {
		relevance = LexicalRelevance{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		store:     store,
		outline:   outline,
		relevance: relevance,
		limits:    limits,
		logger:    logger,
	}
}

// Assemble resolves the minimal-but-complete context for target.
func (a *Assembler) Assemble(ctx context.Context, target Target) (*Bundle, error) {
	if target.Chapter < 1 {
		return nil, fmt.Errorf("assemble %s: chapter must be positive", target)
	}
	b := &Bundle{Target: target}

	if a.outline != nil {
		outline, err := a.outline.Outline(ctx, target.Chapter)
		if err != nil {
			return nil, fmt.Errorf("resolving outline for %s: %w", target, err)
		}
		b.Outline = outline
	}

	scene := a.targetScene(target)
	b.Scene = scene

	present := a.presentCharacters(target, scene)
	for _, c := range present {
		b.Characters = append(b.Characters, a.characterContext(c, target.Chapter))
	}

	b.PreviousScene = a.previousContext(target)

	for _, cb := range a.store.OpenCallbacksThrough(target.Chapter) {
		if a.relevance.CallbackRelevant(cb, scene, present) {
			b.OpenCallbacks = append(b.OpenCallbacks, cb)
		}
	}
	b.OpenCallbacks = capCallbacks(b.OpenCallbacks, a.limits.MaxCallbacks)

	facts := a.store.Facts(func(f *codex.Fact) bool {
		return a.relevance.FactRelevant(f, scene)
	})
	if a.outline != nil && scene != nil && scene.Location != "" {
		world, err := a.outline.WorldFacts(ctx, scene.Location)
		if err != nil {
			return nil, fmt.Errorf("resolving world facts for %s: %w", target, err)
		}
		facts = mergeFacts(facts, world)
	}
	b.Facts = capFacts(facts, a.limits.MaxFacts)

	a.logger.Debug("assembled bundle",
		zap.String("target", target.String()),
		zap.Int("characters", len(b.Characters)),
		zap.Int("callbacks", len(b.OpenCallbacks)),
		zap.Int("facts", len(b.Facts)))
	return b, nil
}

// targetScene returns the planned scene record for the target, if one exists.
func (a *Assembler) targetScene(target Target) *codex.Scene {
	if target.Scene == 0 {
		return nil
	}
	sc, err := a.store.GetScene(target.Chapter, target.Scene)
	if err != nil {
		return nil
	}
	return sc
}

// presentCharacters resolves who is on stage for the target: the scene's
// present set when the scene is planned, otherwise everyone appearing in the
// target chapter so far.
func (a *Assembler) presentCharacters(target Target, scene *codex.Scene) []*codex.Character {
	if scene != nil {
		var out []*codex.Character
		for _, name := range scene.Characters {
			c, err := a.store.GetCharacter(name)
			if err != nil {
				continue // present set is validated on write; tolerate drift
			}
			out = append(out, c)
		}
		return out
	}
	return a.store.Characters(func(c *codex.Character) bool {
		for _, ref := range c.Appearances {
			if ref.Chapter == target.Chapter {
				return true
			}
		}
		return false
	})
}

func (a *Assembler) characterContext(c *codex.Character, chapter int) CharacterContext {
	cc := CharacterContext{
		Name:          c.Name,
		Role:          c.Role,
		Traits:        c.Traits,
		Snapshot:      c.SnapshotAt(chapter),
		Emotions:      c.EmotionsThrough(chapter),
		Relationships: c.Relationships,
	}
	memories := c.MemoriesThrough(chapter)
	if n := a.limits.MaxMemories; n > 0 && len(memories) > n {
		memories = memories[len(memories)-n:] // keep the most recent
	}
	cc.Memories = memories
	for _, m := range c.Milestones {
		if m.Chapter <= chapter {
			cc.Milestones = append(cc.Milestones, m)
		}
	}
	return cc
}

// previousContext resolves the immediately preceding scene's summary for
// narrative continuity, truncated to the configured word budget.
func (a *Assembler) previousContext(target Target) string {
	ref := codex.SceneRef{Chapter: target.Chapter, Scene: target.Scene}
	if target.Scene == 0 {
		ref.Scene = 1
	}
	prev := a.store.PreviousScene(ref)
	if prev == nil {
		return ""
	}
	text := prev.Summary
	if text == "" {
		text = prev.Title
	}
	return lastWords(text, a.limits.MaxPreviousWords)
}

// lastWords keeps the trailing n words of text, marking the truncation.
func lastWords(text string, n int) string {
	if n <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return "...[earlier text truncated]... " + strings.Join(words[len(words)-n:], " ")
}

func capCallbacks(in []*codex.Callback, n int) []*codex.Callback {
	if n <= 0 || len(in) <= n {
		return in
	}
	return in[:n]
}

func capFacts(in []*codex.Fact, n int) []*codex.Fact {
	if n <= 0 || len(in) <= n {
		return in
	}
	return in[:n]
}

func mergeFacts(base, extra []*codex.Fact) []*codex.Fact {
	seen := make(map[string]bool, len(base))
	for _, f := range base {
		seen[f.ID] = true
	}
	for _, f := range extra {
		if !seen[f.ID] {
			base = append(base, f)
			seen[f.ID] = true
		}
	}
	return base
}
