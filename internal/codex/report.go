package codex

import (
	"fmt"
	"sort"
	"strings"
)

// GapSeverity ranks issues found during project analysis.
type GapSeverity string

const (
	GapCritical GapSeverity = "critical"
	GapHigh     GapSeverity = "high"
	GapMedium   GapSeverity = "medium"
	GapLow      GapSeverity = "low"
	GapInfo     GapSeverity = "info"
)

// Gap is an issue identified in the narrative state.
type Gap struct {
	Category    string      `json:"category"`
	Severity    GapSeverity `json:"severity"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Suggestion  string      `json:"suggestion,omitempty"`
}

// Report summarizes the state of a project codex.
type Report struct {
	Project          string         `json:"project"`
	ChaptersWritten  int            `json:"chapters_written"`
	SceneCount       int            `json:"scene_count"`
	CharacterCount   int            `json:"character_count"`
	Appearances      map[string]int `json:"appearances"`
	CallbacksOpen    int            `json:"callbacks_open"`
	CallbacksPaidOff int            `json:"callbacks_paid_off"`
	PendingCallbacks []*Callback    `json:"pending_callbacks"`
	Gaps             []Gap          `json:"gaps"`
}

// Analyze builds a report over the store's current state.
func (s *Store) Analyze() *Report {
	r := &Report{
		Project:     s.project,
		Appearances: make(map[string]int),
	}

	scenes := s.Scenes(nil)
	r.SceneCount = len(scenes)
	chapters := make(map[int]bool)
	for _, sc := range scenes {
		chapters[sc.Chapter] = true
	}
	r.ChaptersWritten = len(chapters)
	maxCh, _ := s.MaxChapter()

	characters := s.Characters(nil)
	r.CharacterCount = len(characters)
	for _, c := range characters {
		r.Appearances[c.Name] = len(c.Appearances)
		if len(c.Appearances) > 5 && len(c.Relationships) == 0 {
			r.Gaps = append(r.Gaps, Gap{
				Category:    "character",
				Severity:    GapHigh,
				Description: fmt.Sprintf("%s appears often but has no defined relationships", c.Name),
				Location:    "character: " + c.Name,
				Suggestion:  "define relationships with the other main characters",
			})
		}
		if len(c.Appearances) == 0 && len(c.Milestones) > 0 {
			r.Gaps = append(r.Gaps, Gap{
				Category:    "character",
				Severity:    GapInfo,
				Description: fmt.Sprintf("%s has arc milestones but has not appeared in any scene", c.Name),
				Location:    "character: " + c.Name,
			})
		}
	}

	for _, cb := range s.Callbacks(nil) {
		switch cb.Status {
		case CallbackPlanted:
			r.CallbacksOpen++
			r.PendingCallbacks = append(r.PendingCallbacks, cb)
			age := maxCh - cb.Setup.Chapter
			if cb.Importance == ImportanceCritical && age > 8 {
				r.Gaps = append(r.Gaps, Gap{
					Category:    "plot",
					Severity:    GapHigh,
					Description: fmt.Sprintf("critical callback %q planted %d chapters ago with no payoff", cb.Name, age),
					Location:    "chapter " + fmt.Sprint(cb.Setup.Chapter),
					Suggestion:  "reference or begin payoff of this element soon",
				})
			}
		case CallbackPaidOff:
			r.CallbacksPaidOff++
		}
	}

	sort.Slice(r.Gaps, func(i, j int) bool {
		return severityRank(r.Gaps[i].Severity) < severityRank(r.Gaps[j].Severity)
	})
	return r
}

func severityRank(s GapSeverity) int {
	switch s {
	case GapCritical:
		return 0
	case GapHigh:
		return 1
	case GapMedium:
		return 2
	case GapLow:
		return 3
	default:
		return 4
	}
}

// FactSheet renders the report as printable text.
func (r *Report) FactSheet() string {
	var b strings.Builder
	rule := strings.Repeat("=", 70)
	fmt.Fprintf(&b, "%s\n  FACT SHEET: %s\n%s\n\n", rule, r.Project, rule)
	fmt.Fprintf(&b, "## PROGRESS\n  Chapters: %d  Scenes: %d\n\n", r.ChaptersWritten, r.SceneCount)

	fmt.Fprintf(&b, "## CHARACTERS (%d)\n", r.CharacterCount)
	names := make([]string, 0, len(r.Appearances))
	for name := range r.Appearances {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if r.Appearances[names[i]] != r.Appearances[names[j]] {
			return r.Appearances[names[i]] > r.Appearances[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		fmt.Fprintf(&b, "  - %s: %d scenes\n", name, r.Appearances[name])
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## CALLBACKS\n  Open: %d  Paid off: %d\n", r.CallbacksOpen, r.CallbacksPaidOff)
	for _, cb := range r.PendingCallbacks {
		fmt.Fprintf(&b, "    [%s] %s (planted %s)\n", strings.ToUpper(string(cb.Importance)), cb.Name, cb.Setup)
	}
	b.WriteString("\n")

	if len(r.Gaps) > 0 {
		b.WriteString("## GAPS & ISSUES\n")
		for _, g := range r.Gaps {
			fmt.Fprintf(&b, "  [%s] %s\n", strings.ToUpper(string(g.Severity)), g.Description)
			if g.Suggestion != "" {
				fmt.Fprintf(&b, "      Fix: %s\n", g.Suggestion)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(rule)
	return b.String()
}
