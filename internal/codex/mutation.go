package codex

// MutationKind tags the operation a Mutation performs.
type MutationKind string

const (
	MutPutCharacter       MutationKind = "put_character"
	MutPutScene           MutationKind = "put_scene"
	MutPutCallback        MutationKind = "put_callback"
	MutPutFact            MutationKind = "put_fact"
	MutTransitionCallback MutationKind = "transition_callback"
	MutAddEmotions        MutationKind = "add_emotions"
	MutRecordFactUsage    MutationKind = "record_fact_usage"
)

// Mutation is one step of a codex transaction. Mutations are plain data so a
// transaction can be logged or persisted before it commits.
type Mutation struct {
	Kind MutationKind `json:"kind"`

	Character *Character `json:"character,omitempty"`
	Scene     *Scene     `json:"scene,omitempty"`
	Callback  *Callback  `json:"callback,omitempty"`
	Fact      *Fact      `json:"fact,omitempty"`

	// transition_callback
	CallbackID        string         `json:"callback_id,omitempty"`
	NewStatus         CallbackStatus `json:"new_status,omitempty"`
	Payoff            *SceneRef      `json:"payoff,omitempty"`
	PayoffDescription string         `json:"payoff_description,omitempty"`

	// add_emotions
	CharacterName string          `json:"character_name,omitempty"`
	Chapter       int             `json:"chapter,omitempty"`
	Emotions      []EmotionRecord `json:"emotions,omitempty"`

	// record_fact_usage
	FactID string `json:"fact_id,omitempty"`
}

// PutCharacter builds a mutation that inserts or replaces a character.
func PutCharacter(c *Character) Mutation {
	return Mutation{Kind: MutPutCharacter, Character: c}
}

// PutScene builds a mutation that inserts or replaces a scene.
func PutScene(s *Scene) Mutation {
	return Mutation{Kind: MutPutScene, Scene: s}
}

// PutCallback builds a mutation that inserts or replaces a callback.
func PutCallback(cb *Callback) Mutation {
	return Mutation{Kind: MutPutCallback, Callback: cb}
}

// PutFact builds a mutation that inserts or replaces a fact.
func PutFact(f *Fact) Mutation {
	return Mutation{Kind: MutPutFact, Fact: f}
}

// TransitionCallback builds a mutation that moves a callback to a new status,
// optionally recording where and how it paid off.
func TransitionCallback(id string, status CallbackStatus, payoff *SceneRef, description string) Mutation {
	return Mutation{
		Kind:              MutTransitionCallback,
		CallbackID:        id,
		NewStatus:         status,
		Payoff:            payoff,
		PayoffDescription: description,
	}
}

// AddEmotions builds a mutation that appends emotion records to a character's
// timeline at a chapter.
func AddEmotions(character string, chapter int, records []EmotionRecord) Mutation {
	return Mutation{
		Kind:          MutAddEmotions,
		CharacterName: character,
		Chapter:       chapter,
		Emotions:      records,
	}
}

// RecordFactUsage builds a mutation that marks a fact as used in a chapter.
func RecordFactUsage(factID string, chapter int) Mutation {
	return Mutation{Kind: MutRecordFactUsage, FactID: factID, Chapter: chapter}
}

// apply validates the mutation against the staged state and writes the result
// into it. The staged state is a shallow copy of the live one, so every write
// replaces entities with fresh clones rather than editing in place.
func (m Mutation) apply(st *state) error {
	switch m.Kind {
	case MutPutCharacter:
		if m.Character == nil {
			return integrity(EntityCharacter, "", "payload", "nil character")
		}
		c := m.Character.Clone()
		if err := st.validateCharacter(c); err != nil {
			return err
		}
		st.characters[c.Name] = c
		return nil

	case MutPutScene:
		if m.Scene == nil {
			return integrity(EntityScene, "", "payload", "nil scene")
		}
		sc := m.Scene.Clone()
		if sc.ID == "" {
			sc.ID = sc.Ref().String()
		}
		if err := st.validateScene(sc); err != nil {
			return err
		}
		st.scenes[sc.Ref().String()] = sc
		st.markAppearances(sc)
		return nil

	case MutPutCallback:
		if m.Callback == nil {
			return integrity(EntityCallback, "", "payload", "nil callback")
		}
		cb := m.Callback.Clone()
		if err := st.validateCallback(cb, st.callbacks[cb.ID]); err != nil {
			return err
		}
		st.callbacks[cb.ID] = cb
		return nil

	case MutPutFact:
		if m.Fact == nil {
			return integrity(EntityFact, "", "payload", "nil fact")
		}
		f := m.Fact.Clone()
		if err := st.validateFact(f); err != nil {
			return err
		}
		st.facts[f.ID] = f
		return nil

	case MutTransitionCallback:
		old, ok := st.callbacks[m.CallbackID]
		if !ok {
			return notFound(EntityCallback, m.CallbackID)
		}
		cb := old.Clone()
		cb.Status = m.NewStatus
		if m.Payoff != nil {
			p := *m.Payoff
			cb.Payoff = &p
		}
		if m.PayoffDescription != "" {
			cb.PayoffDescription = m.PayoffDescription
		}
		if err := st.validateCallback(cb, old); err != nil {
			return err
		}
		st.callbacks[cb.ID] = cb
		return nil

	case MutAddEmotions:
		old, ok := st.characters[m.CharacterName]
		if !ok {
			return notFound(EntityCharacter, m.CharacterName)
		}
		c := old.Clone()
		if c.Emotions == nil {
			c.Emotions = make(map[int][]EmotionRecord)
		}
		c.Emotions[m.Chapter] = append(c.Emotions[m.Chapter], m.Emotions...)
		if err := st.validateCharacter(c); err != nil {
			return err
		}
		st.characters[c.Name] = c
		return nil

	case MutRecordFactUsage:
		old, ok := st.facts[m.FactID]
		if !ok {
			return notFound(EntityFact, m.FactID)
		}
		f := old.Clone()
		if !containsInt(f.ChaptersUsed, m.Chapter) {
			f.ChaptersUsed = append(f.ChaptersUsed, m.Chapter)
		}
		st.facts[f.ID] = f
		return nil

	default:
		return integrity("", "", "mutation-kind", "unknown mutation kind %q", m.Kind)
	}
}

// markAppearances keeps character appearance and POV indexes in sync with a
// newly written scene.
func (st *state) markAppearances(sc *Scene) {
	ref := sc.Ref()
	for _, name := range sc.Characters {
		old, ok := st.characters[name]
		if !ok {
			continue // present set is validated on write; tolerate partial restores
		}
		c := old.Clone()
		if !containsRef(c.Appearances, ref) {
			c.Appearances = append(c.Appearances, ref)
		}
		if sc.POV == name && !containsRef(c.POVScenes, ref) {
			c.POVScenes = append(c.POVScenes, ref)
		}
		st.characters[name] = c
	}
}

func containsInt(list []int, want int) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func containsRef(list []SceneRef, want SceneRef) bool {
	for _, r := range list {
		if r == want {
			return true
		}
	}
	return false
}
