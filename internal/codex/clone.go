package codex

// Entities returned by the store are defensive copies. Callers never share
// memory with the store's own state, so reads stay consistent while a
// transaction is being staged.

func cloneInts(in []int) []int {
	if in == nil {
		return nil
	}
	return append([]int(nil), in...)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneRefs(in []SceneRef) []SceneRef {
	if in == nil {
		return nil
	}
	return append([]SceneRef(nil), in...)
}

func cloneEmotions(in []EmotionRecord) []EmotionRecord {
	if in == nil {
		return nil
	}
	return append([]EmotionRecord(nil), in...)
}

// Clone returns a deep copy of the character.
func (c *Character) Clone() *Character {
	out := *c
	out.Aliases = cloneStrings(c.Aliases)
	out.Traits = cloneStrings(c.Traits)
	out.Inventory = cloneStrings(c.Inventory)
	out.Appearances = cloneRefs(c.Appearances)
	out.POVScenes = cloneRefs(c.POVScenes)
	if c.Snapshots != nil {
		out.Snapshots = append([]AttributeSnapshot(nil), c.Snapshots...)
	}
	if c.Milestones != nil {
		out.Milestones = append([]ArcMilestone(nil), c.Milestones...)
	}
	if c.Relationships != nil {
		out.Relationships = make(map[string]Relationship, len(c.Relationships))
		for k, v := range c.Relationships {
			if v.History != nil {
				v.History = append([]RelationshipState(nil), v.History...)
			}
			out.Relationships[k] = v
		}
	}
	if c.Emotions != nil {
		out.Emotions = make(map[int][]EmotionRecord, len(c.Emotions))
		for ch, recs := range c.Emotions {
			out.Emotions[ch] = cloneEmotions(recs)
		}
	}
	if c.Memories != nil {
		out.Memories = make([]Memory, len(c.Memories))
		for i, m := range c.Memories {
			m.ChaptersReferenced = cloneInts(m.ChaptersReferenced)
			m.Associated = cloneStrings(m.Associated)
			out.Memories[i] = m
		}
	}
	return &out
}

// Clone returns a deep copy of the scene.
func (s *Scene) Clone() *Scene {
	out := *s
	out.Characters = cloneStrings(s.Characters)
	out.ItemsMentioned = cloneStrings(s.ItemsMentioned)
	out.FactsEstablished = cloneStrings(s.FactsEstablished)
	out.PromisesMade = cloneStrings(s.PromisesMade)
	out.CallbacksReferenced = cloneStrings(s.CallbacksReferenced)
	if s.Emotions != nil {
		out.Emotions = make(map[string][]EmotionRecord, len(s.Emotions))
		for name, recs := range s.Emotions {
			out.Emotions[name] = cloneEmotions(recs)
		}
	}
	return &out
}

// Clone returns a deep copy of the callback.
func (cb *Callback) Clone() *Callback {
	out := *cb
	if cb.Payoff != nil {
		p := *cb.Payoff
		out.Payoff = &p
	}
	return &out
}

// Clone returns a deep copy of the fact.
func (f *Fact) Clone() *Fact {
	out := *f
	out.ChaptersUsed = cloneInts(f.ChaptersUsed)
	return &out
}
