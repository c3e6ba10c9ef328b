package codex

import "fmt"

// EntityType identifies the kind of entity stored in the codex.
type EntityType string

const (
	EntityCharacter EntityType = "character"
	EntityScene     EntityType = "scene"
	EntityCallback  EntityType = "callback"
	EntityFact      EntityType = "fact"
)

// EmotionKind enumerates the emotions tracked per character.
type EmotionKind string

const (
	EmotionJoy           EmotionKind = "joy"
	EmotionSadness       EmotionKind = "sadness"
	EmotionAnger         EmotionKind = "anger"
	EmotionFear          EmotionKind = "fear"
	EmotionSurprise      EmotionKind = "surprise"
	EmotionTrust         EmotionKind = "trust"
	EmotionAnticipation  EmotionKind = "anticipation"
	EmotionHope          EmotionKind = "hope"
	EmotionDespair       EmotionKind = "despair"
	EmotionLove          EmotionKind = "love"
	EmotionGrief         EmotionKind = "grief"
	EmotionGuilt         EmotionKind = "guilt"
	EmotionShame         EmotionKind = "shame"
	EmotionPride         EmotionKind = "pride"
	EmotionAnxiety       EmotionKind = "anxiety"
	EmotionPeace         EmotionKind = "peace"
	EmotionDetermination EmotionKind = "determination"
	EmotionLoneliness    EmotionKind = "loneliness"
)

// RelationKind enumerates character relationship categories.
type RelationKind string

const (
	RelationFamily       RelationKind = "family"
	RelationFriend       RelationKind = "friend"
	RelationRival        RelationKind = "rival"
	RelationEnemy        RelationKind = "enemy"
	RelationMentor       RelationKind = "mentor"
	RelationStudent      RelationKind = "student"
	RelationRomantic     RelationKind = "romantic"
	RelationAlly         RelationKind = "ally"
	RelationAcquaintance RelationKind = "acquaintance"
	RelationComplicated  RelationKind = "complicated"
)

// SceneKind enumerates scene narrative types.
type SceneKind string

const (
	SceneAction        SceneKind = "action"
	SceneDialogue      SceneKind = "dialogue"
	SceneReflection    SceneKind = "reflection"
	SceneFlashback     SceneKind = "flashback"
	SceneDiscovery     SceneKind = "discovery"
	SceneConfrontation SceneKind = "confrontation"
	SceneRevelation    SceneKind = "revelation"
	SceneTransition    SceneKind = "transition"
)

// ArcKind enumerates character arc archetypes.
type ArcKind string

const (
	ArcComingOfAge      ArcKind = "coming_of_age"
	ArcRedemption       ArcKind = "redemption"
	ArcFall             ArcKind = "fall"
	ArcTransformation   ArcKind = "transformation"
	ArcFlat             ArcKind = "flat"
	ArcDisillusionment  ArcKind = "disillusionment"
	ArcEducation        ArcKind = "education"
	ArcTesting          ArcKind = "testing"
)

// CallbackStatus tracks the lifecycle of a narrative promise. The only legal
// transitions are planted -> paid_off and planted -> abandoned.
type CallbackStatus string

const (
	CallbackPlanted   CallbackStatus = "planted"
	CallbackPaidOff   CallbackStatus = "paid_off"
	CallbackAbandoned CallbackStatus = "abandoned"
)

// Importance ranks how badly a callback needs eventual payoff.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// SceneRef locates a scene by chapter and ordinal within that chapter.
type SceneRef struct {
	Chapter int `json:"chapter"`
	Scene   int `json:"scene"`
}

func (r SceneRef) String() string {
	return fmt.Sprintf("ch%d_sc%d", r.Chapter, r.Scene)
}

// Before reports whether r precedes other in narrative order.
func (r SceneRef) Before(other SceneRef) bool {
	if r.Chapter != other.Chapter {
		return r.Chapter < other.Chapter
	}
	return r.Scene < other.Scene
}

// EmotionRecord captures a character's emotional state at one moment.
type EmotionRecord struct {
	Kind       EmotionKind `json:"kind"`
	Intensity  float64     `json:"intensity"` // 0.0 to 1.0
	Trigger    string      `json:"trigger,omitempty"`
	Expression string      `json:"expression,omitempty"`
}

// RelationshipState is a snapshot of a relationship at a chapter.
type RelationshipState struct {
	Chapter     int     `json:"chapter"`
	Trust       float64 `json:"trust"`
	Affection   float64 `json:"affection"`
	Conflict    float64 `json:"conflict"`
	Description string  `json:"description,omitempty"`
}

// Relationship links a character to another by name, with an ordered history
// of how the relationship evolved.
type Relationship struct {
	Target      string              `json:"target"`
	Kind        RelationKind        `json:"kind"`
	Description string              `json:"description,omitempty"`
	History     []RelationshipState `json:"history,omitempty"`
}

// Memory is a significant memory owned by exactly one character.
type Memory struct {
	ID                 string      `json:"id"`
	Owner              string      `json:"owner"`
	Content            string      `json:"content"`
	Weight             EmotionKind `json:"weight,omitempty"`
	ChapterIntroduced  int         `json:"chapter_introduced"`
	ChaptersReferenced []int       `json:"chapters_referenced,omitempty"`
	Associated         []string    `json:"associated,omitempty"`
	Trauma             bool        `json:"trauma,omitempty"`
}

// ArcMilestone marks a significant beat in a character's arc.
type ArcMilestone struct {
	Chapter     int    `json:"chapter"`
	Scene       int    `json:"scene,omitempty"`
	Description string `json:"description"`
	Before      string `json:"before,omitempty"`
	After       string `json:"after,omitempty"`
	Catalyst    string `json:"catalyst,omitempty"`
}

// AttributeSnapshot is a character's mutable attributes at a chapter.
type AttributeSnapshot struct {
	Chapter     int    `json:"chapter"`
	Age         string `json:"age,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Character is the codex entry for one character. Emotional state is keyed by
// chapter; each chapter holds an ordered list of emotion records.
type Character struct {
	Name          string                  `json:"name"`
	Aliases       []string                `json:"aliases,omitempty"`
	Role          string                  `json:"role,omitempty"`
	Traits        []string                `json:"traits,omitempty"`
	Snapshots     []AttributeSnapshot     `json:"snapshots,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Arc           ArcKind                 `json:"arc,omitempty"`
	Milestones    []ArcMilestone          `json:"milestones,omitempty"`
	Emotions      map[int][]EmotionRecord `json:"emotions,omitempty"` // chapter -> records
	Memories      []Memory                `json:"memories,omitempty"`
	Appearances   []SceneRef              `json:"appearances,omitempty"`
	POVScenes     []SceneRef              `json:"pov_scenes,omitempty"`
	Alive         bool                    `json:"alive"`
	DeathChapter  int                     `json:"death_chapter,omitempty"`
	Inventory     []string                `json:"inventory,omitempty"`
}

// SnapshotAt returns the latest attribute snapshot at or before chapter, or
// nil if the character has none that early.
func (c *Character) SnapshotAt(chapter int) *AttributeSnapshot {
	var best *AttributeSnapshot
	for i := range c.Snapshots {
		s := &c.Snapshots[i]
		if s.Chapter > chapter {
			continue
		}
		if best == nil || s.Chapter > best.Chapter {
			best = s
		}
	}
	return best
}

// EmotionsThrough returns the character's emotion timeline up to and
// including chapter, keyed by chapter, in a fresh map.
func (c *Character) EmotionsThrough(chapter int) map[int][]EmotionRecord {
	out := make(map[int][]EmotionRecord)
	for ch, recs := range c.Emotions {
		if ch <= chapter {
			out[ch] = append([]EmotionRecord(nil), recs...)
		}
	}
	return out
}

// MemoriesThrough returns memories introduced at or before chapter.
func (c *Character) MemoriesThrough(chapter int) []Memory {
	var out []Memory
	for _, m := range c.Memories {
		if m.ChapterIntroduced <= chapter {
			out = append(out, m)
		}
	}
	return out
}

// Known reports whether name matches the character's name or an alias.
func (c *Character) Known(name string) bool {
	if name == c.Name {
		return true
	}
	for _, a := range c.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

// Scene is the codex entry for one scene within a chapter.
type Scene struct {
	ID      string `json:"id"` // "ch3_sc2"
	Chapter int    `json:"chapter"`
	Number  int    `json:"number"` // ordinal within the chapter, from 1
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`

	Location   string `json:"location,omitempty"`
	TimeOfDay  string `json:"time_of_day,omitempty"`
	Atmosphere string `json:"atmosphere,omitempty"`

	Characters []string                   `json:"characters,omitempty"`
	POV        string                     `json:"pov,omitempty"`
	Emotions   map[string][]EmotionRecord `json:"emotions,omitempty"` // character -> snapshot

	Kind     SceneKind `json:"kind,omitempty"`
	Conflict string    `json:"conflict,omitempty"`
	Stakes   string    `json:"stakes,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`

	ItemsMentioned      []string `json:"items_mentioned,omitempty"`
	FactsEstablished    []string `json:"facts_established,omitempty"`    // fact IDs
	PromisesMade        []string `json:"promises_made,omitempty"`        // callback IDs planted here
	CallbacksReferenced []string `json:"callbacks_referenced,omitempty"` // callback IDs mentioned

	WordCount int `json:"word_count,omitempty"`
}

// Ref returns the scene's position in narrative order.
func (s *Scene) Ref() SceneRef {
	return SceneRef{Chapter: s.Chapter, Scene: s.Number}
}

// Callback is a narrative promise: planted in one scene, expected to pay off
// in a later one. Payoff fields are empty while status is planted.
type Callback struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Setup             SceneRef       `json:"setup"`
	SetupDescription  string         `json:"setup_description"`
	Status            CallbackStatus `json:"status"`
	Importance        Importance     `json:"importance,omitempty"`
	Payoff            *SceneRef      `json:"payoff,omitempty"`
	PayoffDescription string         `json:"payoff_description,omitempty"`
	Notes             string         `json:"notes,omitempty"`
}

// Open reports whether the callback still awaits payoff or abandonment.
func (cb *Callback) Open() bool {
	return cb.Status == CallbackPlanted
}

// Fact is a factual-grounding registry entry.
type Fact struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Statement    string `json:"statement"`
	Source       string `json:"source,omitempty"`
	VerifiedDate string `json:"verified_date,omitempty"`
	ChaptersUsed []int  `json:"chapters_used,omitempty"`
}
