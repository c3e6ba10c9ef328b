package validate

import (
	"regexp"
	"strings"

	"github.com/vampirenirmal/scribe/internal/codex"
)

// ClaimKind tags what a claim asserts about the narrative.
type ClaimKind string

const (
	ClaimPayoff  ClaimKind = "payoff"  // a planted promise is resolved
	ClaimTrait   ClaimKind = "trait"   // a character is described some way
	ClaimChapter ClaimKind = "chapter" // an explicit chapter reference
	ClaimEmotion ClaimKind = "emotion" // a character feels something
)

// Claim is one assertion extracted from generated text.
type Claim struct {
	Kind    ClaimKind
	Subject string // character name, or empty when unknown
	Detail  string // the sentence the claim came from
	Chapter int    // for ClaimChapter
	Emotion codex.EmotionKind
}

// ClaimExtractor turns generated text into claims. Extraction is explicitly
// approximate; swap the implementation without touching validator control
// flow.
type ClaimExtractor interface {
	ExtractClaims(text string) []Claim
}

var (
	payoffRe  = regexp.MustCompile(`(?i)\b(pays? off|paid off|payoff|finally reveal(s|ed)?|at last)\b`)
	chapterRe = regexp.MustCompile(`(?i)\bchapter (\d+)\b`)
	traitRe   = regexp.MustCompile(`\b([A-Z][a-z]+) (?:is|was|looked|seemed|felt) ([a-z][a-z-]*)`)
)

// emotionKeywords maps surface words to emotion kinds, for deriving a
// character's state from prose. Ordered so extraction is deterministic.
var emotionKeywords = []struct {
	kind  codex.EmotionKind
	words []string
}{
	{codex.EmotionFear, []string{"fear", "afraid", "terrified", "dread"}},
	{codex.EmotionGrief, []string{"grief", "mourning", "bereft"}},
	{codex.EmotionHope, []string{"hope", "hopeful", "optimis"}},
	{codex.EmotionDetermination, []string{"determined", "resolute", "unwavering"}},
	{codex.EmotionAnger, []string{"anger", "rage", "fury", "furious"}},
	{codex.EmotionGuilt, []string{"guilt", "regret", "remorse"}},
	{codex.EmotionLove, []string{"love", "devotion", "tenderness"}},
	{codex.EmotionLoneliness, []string{"lonely", "isolated", "alone"}},
	{codex.EmotionJoy, []string{"joy", "delight", "elated"}},
	{codex.EmotionPeace, []string{"calm", "peace", "serene"}},
}

// RuleExtractor is the default rule-set extractor: sentence splitting plus
// keyword and pattern matching. No language understanding is attempted.
type RuleExtractor struct{}

func (RuleExtractor) ExtractClaims(text string) []Claim {
	var claims []Claim
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)

		if payoffRe.MatchString(sentence) {
			claims = append(claims, Claim{Kind: ClaimPayoff, Detail: sentence})
		}
		for _, m := range chapterRe.FindAllStringSubmatch(sentence, -1) {
			claims = append(claims, Claim{
				Kind:    ClaimChapter,
				Detail:  sentence,
				Chapter: atoiSafe(m[1]),
			})
		}
		for _, m := range traitRe.FindAllStringSubmatch(sentence, -1) {
			claims = append(claims, Claim{
				Kind:    ClaimTrait,
				Subject: m[1],
				Detail:  m[2],
			})
		}
		for _, entry := range emotionKeywords {
			for _, w := range entry.words {
				if strings.Contains(lower, w) {
					claims = append(claims, Claim{Kind: ClaimEmotion, Detail: sentence, Emotion: entry.kind})
					break
				}
			}
		}
	}
	return claims
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
