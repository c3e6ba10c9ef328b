// Package update folds approved generation output back into the codex. It
// shares the validator's heuristic claim extraction, builds one transaction,
// and lets the store's integrity checks accept or reject it whole.
package update

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vampirenirmal/scribe/internal/assemble"
	"github.com/vampirenirmal/scribe/internal/codex"
	"github.com/vampirenirmal/scribe/internal/validate"
)

// Updater extracts codex mutations from approved output.
type Updater struct {
	store     *codex.Store
	extractor validate.ClaimExtractor
	logger    *zap.Logger
}

// New creates an updater. extractor defaults to the validator's rule set.
func New(store *codex.Store, extractor validate.ClaimExtractor, logger *zap.Logger) *Updater {
	if extractor == nil {
		extractor = validate.RuleExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{store: store, extractor: extractor, logger: logger}
}

// Plan derives the mutations an approved output implies, without applying
// them: callback payoffs, emotional-state updates for the POV character, and
// usage marks for facts the output leaned on.
func (u *Updater) Plan(bundle *assemble.Bundle, approvedOutput string) []codex.Mutation {
	var muts []codex.Mutation
	claims := u.extractor.ExtractClaims(approvedOutput)

	target := codex.SceneRef{Chapter: bundle.Target.Chapter, Scene: bundle.Target.Scene}
	if target.Scene == 0 {
		target.Scene = 1
	}

	// Callback payoffs: an open bundled callback whose name appears in a
	// payoff sentence transitions to paid_off at the target location.
	for _, cb := range bundle.OpenCallbacks {
		sentence, ok := payoffSentence(claims, cb.Name)
		if !ok {
			continue
		}
		loc := target
		muts = append(muts, codex.TransitionCallback(cb.ID, codex.CallbackPaidOff, &loc, sentence))
	}

	// Emotional state for the POV character, derived from emotion claims.
	if pov := povName(bundle); pov != "" {
		var records []codex.EmotionRecord
		seen := make(map[codex.EmotionKind]bool)
		for _, c := range claims {
			if c.Kind != validate.ClaimEmotion || seen[c.Emotion] {
				continue
			}
			seen[c.Emotion] = true
			records = append(records, codex.EmotionRecord{
				Kind:      c.Emotion,
				Intensity: 0.5,
				Trigger:   c.Detail,
			})
		}
		if len(records) > 0 {
			muts = append(muts, codex.AddEmotions(pov, bundle.Target.Chapter, records))
		}
	}

	// Facts the output restates get a usage mark for this chapter.
	lower := strings.ToLower(approvedOutput)
	for _, f := range bundle.Facts {
		if f.Statement != "" && strings.Contains(lower, strings.ToLower(f.Statement)) {
			muts = append(muts, codex.RecordFactUsage(f.ID, bundle.Target.Chapter))
		}
	}

	return muts
}

// Apply plans and commits the mutations as one atomic transaction. A
// rejection by the store's integrity checks is returned to the caller; the
// human resolves the conflict and the step re-runs.
func (u *Updater) Apply(bundle *assemble.Bundle, approvedOutput string) ([]codex.Mutation, error) {
	muts := u.Plan(bundle, approvedOutput)
	if len(muts) == 0 {
		u.logger.Debug("no mutations extracted", zap.String("target", bundle.Target.String()))
		return nil, nil
	}
	if err := u.store.Apply(muts); err != nil {
		return nil, fmt.Errorf("committing %d mutations for %s: %w", len(muts), bundle.Target, err)
	}
	u.logger.Info("codex updated",
		zap.String("target", bundle.Target.String()),
		zap.Int("mutations", len(muts)))
	return muts, nil
}

// NewFactID mints a stable identifier for a fact added by hand or by a
// command-surface caller.
func NewFactID() string {
	return "fact_" + uuid.NewString()[:8]
}

// NewCallbackID mints a stable identifier for a callback.
func NewCallbackID(setupChapter int) string {
	return fmt.Sprintf("cb_%d_%s", setupChapter, uuid.NewString()[:8])
}

func payoffSentence(claims []validate.Claim, name string) (string, bool) {
	for _, c := range claims {
		if c.Kind == validate.ClaimPayoff && containsFold(c.Detail, name) {
			return c.Detail, true
		}
	}
	return "", false
}

func povName(bundle *assemble.Bundle) string {
	if bundle.Scene != nil && bundle.Scene.POV != "" {
		return bundle.Scene.POV
	}
	if len(bundle.Characters) > 0 {
		return bundle.Characters[0].Name
	}
	return ""
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
