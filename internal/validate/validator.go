// Package validate inspects proposed generation output against the codex and
// reports findings. Findings never mutate anything; blocking findings stop a
// checkpoint from auto-advancing, the rest are surfaced for the human.
package validate

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vampirenirmal/scribe/internal/assemble"
	"github.com/vampirenirmal/scribe/internal/codex"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

// EntityRef points a finding at the entity it concerns.
type EntityRef struct {
	Type codex.EntityType `json:"type"`
	ID   string           `json:"id"`
}

// Finding is one consistency observation about proposed output.
type Finding struct {
	Severity Severity    `json:"severity"`
	Code     string      `json:"code"`
	Message  string      `json:"message"`
	Refs     []EntityRef `json:"refs,omitempty"`
}

// HasBlocking reports whether any finding is blocking.
func HasBlocking(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// Config tunes the validator's heuristics.
type Config struct {
	// StaleCallbackAge is the chapter distance after which an unpaid
	// callback is flagged. Zero disables the check.
	StaleCallbackAge int
}

// Validator runs consistency checks over a bundle and proposed output.
type Validator struct {
	store     *codex.Store
	extractor ClaimExtractor
	cfg       Config
	logger    *zap.Logger
}

// New creates a validator. extractor defaults to RuleExtractor.
func New(store *codex.Store, extractor ClaimExtractor, cfg Config, logger *zap.Logger) *Validator {
	if extractor == nil {
		extractor = RuleExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{store: store, extractor: extractor, cfg: cfg, logger: logger}
}

// Check inspects output proposed for the bundle's target and returns findings
// in a stable order. It never blocks execution itself.
func (v *Validator) Check(bundle *assemble.Bundle, output string) []Finding {
	claims := v.extractor.ExtractClaims(output)

	var findings []Finding
	findings = append(findings, v.checkTraits(bundle, claims)...)
	findings = append(findings, v.checkTimeline(bundle, claims)...)
	findings = append(findings, v.checkCallbacks(bundle, output)...)
	findings = append(findings, v.checkStaleCallbacks(bundle)...)

	v.logger.Debug("consistency check",
		zap.String("target", bundle.Target.String()),
		zap.Int("claims", len(claims)),
		zap.Int("findings", len(findings)))
	return findings
}

// negationPairs drives the approximate trait-contradiction check. Each trait
// maps to words that contradict it.
var negationPairs = map[string][]string{
	"brave":      {"cowardly", "craven"},
	"cowardly":   {"brave", "fearless"},
	"honest":     {"deceitful", "lying", "dishonest"},
	"deceitful":  {"honest", "truthful"},
	"gentle":     {"cruel", "brutal"},
	"cruel":      {"gentle", "kind"},
	"calm":       {"frantic", "furious"},
	"loyal":      {"treacherous", "disloyal"},
	"stubborn":   {"yielding", "pliant"},
	"trusting":   {"suspicious", "paranoid"},
	"suspicious": {"trusting", "naive"},
	"patient":    {"impatient", "rash"},
	"blind":      {"sighted"},
	"mute":       {"talkative"},
}

func (v *Validator) checkTraits(bundle *assemble.Bundle, claims []Claim) []Finding {
	var findings []Finding
	for _, cc := range bundle.Characters {
		for _, trait := range cc.Traits {
			contradictions := negationPairs[strings.ToLower(trait)]
			for _, claim := range claims {
				if claim.Kind != ClaimTrait || claim.Subject != cc.Name {
					continue
				}
				for _, bad := range contradictions {
					if strings.EqualFold(claim.Detail, bad) {
						findings = append(findings, Finding{
							Severity: SeverityWarning,
							Code:     "trait-contradiction",
							Message: fmt.Sprintf("%s is described as %q but the codex records the trait %q",
								cc.Name, claim.Detail, trait),
							Refs: []EntityRef{{Type: codex.EntityCharacter, ID: cc.Name}},
						})
					}
				}
			}
		}
	}
	return findings
}

func (v *Validator) checkTimeline(bundle *assemble.Bundle, claims []Claim) []Finding {
	var findings []Finding
	for _, claim := range claims {
		if claim.Kind != ClaimChapter || claim.Chapter == 0 {
			continue
		}
		if claim.Chapter > bundle.Target.Chapter {
			findings = append(findings, Finding{
				Severity: SeverityBlocking,
				Code:     "timeline-order",
				Message: fmt.Sprintf("output for %s references chapter %d, which has not happened yet",
					bundle.Target, claim.Chapter),
			})
		}
	}
	return findings
}

// checkCallbacks flags a payoff described for any callback whose stored
// status is not planted: paying off a paid-off or abandoned promise is a
// contradiction either way.
func (v *Validator) checkCallbacks(bundle *assemble.Bundle, output string) []Finding {
	var findings []Finding
	lower := strings.ToLower(output)
	for _, cb := range v.store.Callbacks(nil) {
		if cb.Name == "" || !strings.Contains(lower, strings.ToLower(cb.Name)) {
			continue
		}
		if !mentionsPayoff(output, cb.Name) {
			continue
		}
		if cb.Status != codex.CallbackPlanted {
			findings = append(findings, Finding{
				Severity: SeverityBlocking,
				Code:     "callback-integrity",
				Message: fmt.Sprintf("output pays off callback %q but its status is %s",
					cb.Name, cb.Status),
				Refs: []EntityRef{{Type: codex.EntityCallback, ID: cb.ID}},
			})
		}
	}
	return findings
}

// mentionsPayoff reports whether text resolves the named promise: the name
// and a payoff verb appear in the same sentence.
func mentionsPayoff(text, name string) bool {
	for _, sentence := range splitSentences(text) {
		if containsFold(sentence, name) && payoffRe.MatchString(sentence) {
			return true
		}
	}
	return false
}

// checkStaleCallbacks flags planted callbacks older than the configured
// chapter distance. Warning only; a human decides to abandon or continue.
func (v *Validator) checkStaleCallbacks(bundle *assemble.Bundle) []Finding {
	if v.cfg.StaleCallbackAge <= 0 {
		return nil
	}
	var findings []Finding
	for _, cb := range v.store.OpenCallbacksThrough(bundle.Target.Chapter) {
		age := bundle.Target.Chapter - cb.Setup.Chapter
		if age > v.cfg.StaleCallbackAge {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Code:     "stale-callback",
				Message: fmt.Sprintf("callback %q planted %d chapters ago (%s) with no payoff",
					cb.Name, age, cb.Setup),
				Refs: []EntityRef{{Type: codex.EntityCallback, ID: cb.ID}},
			})
		}
	}
	return findings
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
