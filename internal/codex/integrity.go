package codex

// Entity-local invariant checks. Every check runs against a staged view of
// the store so multi-mutation transactions validate as a whole before any of
// them commits.

func (st *state) validateCharacter(c *Character) error {
	if c.Name == "" {
		return integrity(EntityCharacter, c.Name, "identity", "character name is required")
	}
	maxCh, hasScenes := st.maxChapter()
	if hasScenes {
		for _, m := range c.Milestones {
			if m.Chapter > maxCh {
				return integrity(EntityCharacter, c.Name, "milestone-chapter",
					"milestone at chapter %d exceeds highest written chapter %d", m.Chapter, maxCh)
			}
		}
		for ch := range c.Emotions {
			if ch > maxCh {
				return integrity(EntityCharacter, c.Name, "emotion-chapter",
					"emotional state at chapter %d exceeds highest written chapter %d", ch, maxCh)
			}
		}
	}
	for target := range c.Relationships {
		if target == c.Name {
			return integrity(EntityCharacter, c.Name, "relationship-target", "self-relationship")
		}
	}
	for _, m := range c.Memories {
		if m.Owner != "" && m.Owner != c.Name {
			return integrity(EntityCharacter, c.Name, "memory-owner",
				"memory %q owned by %q", m.ID, m.Owner)
		}
	}
	return nil
}

func (st *state) validateScene(s *Scene) error {
	if s.Chapter < 1 || s.Number < 1 {
		return integrity(EntityScene, s.ID, "scene-position",
			"chapter %d scene %d: positions start at 1", s.Chapter, s.Number)
	}
	// Ordinals within a chapter form a contiguous sequence starting at 1.
	for n := 1; n < s.Number; n++ {
		if st.sceneAt(s.Chapter, n) == nil {
			return integrity(EntityScene, s.ID, "scene-ordinal",
				"scene %d missing from chapter %d; ordinals must be contiguous", n, s.Chapter)
		}
	}
	for _, name := range s.Characters {
		if _, ok := st.characters[name]; !ok {
			return integrity(EntityScene, s.ID, "present-character", "character %q does not exist", name)
		}
	}
	if s.POV != "" && !containsString(s.Characters, s.POV) {
		return integrity(EntityScene, s.ID, "pov-presence", "POV character %q not in present set", s.POV)
	}
	for name := range s.Emotions {
		if !containsString(s.Characters, name) {
			return integrity(EntityScene, s.ID, "emotion-presence",
				"emotion snapshot for %q but character not present", name)
		}
	}
	ref := s.Ref()
	for _, id := range s.CallbacksReferenced {
		cb, ok := st.callbacks[id]
		if !ok {
			return integrity(EntityScene, s.ID, "callback-reference", "callback %q does not exist", id)
		}
		if ref.Before(cb.Setup) {
			return integrity(EntityScene, s.ID, "callback-order",
				"callback %q planted at %s, after this scene %s", id, cb.Setup, ref)
		}
	}
	if st.strictFacts {
		for _, id := range s.FactsEstablished {
			if _, ok := st.facts[id]; !ok {
				return integrity(EntityScene, s.ID, "fact-registry", "fact %q not in registry", id)
			}
		}
	}
	return nil
}

func (st *state) validateCallback(cb *Callback, old *Callback) error {
	if cb.ID == "" {
		return integrity(EntityCallback, cb.ID, "identity", "callback ID is required")
	}
	if cb.Setup.Chapter < 1 {
		return integrity(EntityCallback, cb.ID, "setup-location", "setup chapter %d", cb.Setup.Chapter)
	}
	switch cb.Status {
	case CallbackPlanted:
		if cb.Payoff != nil || cb.PayoffDescription != "" {
			return integrity(EntityCallback, cb.ID, "payoff-absent",
				"payoff fields must be empty while status is planted")
		}
	case CallbackPaidOff, CallbackAbandoned:
	default:
		return integrity(EntityCallback, cb.ID, "status", "unknown status %q", cb.Status)
	}
	if cb.Payoff != nil && cb.Payoff.Before(cb.Setup) {
		return integrity(EntityCallback, cb.ID, "payoff-order",
			"payoff %s precedes setup %s", *cb.Payoff, cb.Setup)
	}
	if old != nil && old.Status != cb.Status {
		if old.Status != CallbackPlanted {
			return integrity(EntityCallback, cb.ID, "status-transition",
				"cannot transition %s -> %s", old.Status, cb.Status)
		}
	}
	return nil
}

func (st *state) validateFact(f *Fact) error {
	if f.ID == "" {
		return integrity(EntityFact, f.ID, "identity", "fact ID is required")
	}
	if f.Statement == "" {
		return integrity(EntityFact, f.ID, "statement", "fact statement is required")
	}
	if f.Category == "" {
		return integrity(EntityFact, f.ID, "category", "fact category is required")
	}
	return nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
