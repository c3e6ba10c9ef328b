package update

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/scribe/internal/assemble"
	"github.com/vampirenirmal/scribe/internal/codex"
)

func seedStore(t *testing.T) *codex.Store {
	t.Helper()
	s := codex.NewStore("update-book", codex.Options{})
	require.NoError(t, s.PutCharacter(&codex.Character{Name: "Mara", Alive: true}))
	for ch := 1; ch <= 16; ch++ {
		require.NoError(t, s.PutScene(&codex.Scene{
			Chapter: ch, Number: 1, Characters: []string{"Mara"}, POV: "Mara",
		}))
	}
	require.NoError(t, s.PutCallback(&codex.Callback{
		ID:               "cb_astrolabe",
		Name:             "astrolabe",
		Setup:            codex.SceneRef{Chapter: 10, Scene: 1},
		SetupDescription: "an astrolabe etched with initials",
		Status:           codex.CallbackPlanted,
	}))
	require.NoError(t, s.PutFact(&codex.Fact{
		ID:        "fact_tide",
		Category:  "world",
		Statement: "the tide turns at dusk",
	}))
	return s
}

func testBundle(s *codex.Store, t *testing.T) *assemble.Bundle {
	t.Helper()
	scene, err := s.GetScene(16, 1)
	require.NoError(t, err)
	cb, err := s.GetCallback("cb_astrolabe")
	require.NoError(t, err)
	fact, err := s.GetFact("fact_tide")
	require.NoError(t, err)
	return &assemble.Bundle{
		Target:        assemble.Target{Chapter: 16, Scene: 1},
		Scene:         scene,
		Characters:    []assemble.CharacterContext{{Name: "Mara"}},
		OpenCallbacks: []*codex.Callback{cb},
		Facts:         []*codex.Fact{fact},
	}
}

func TestApplyTransitionsCallbackAndEmotions(t *testing.T) {
	s := seedStore(t)
	u := New(s, nil, nil)
	bundle := testBundle(s, t)

	output := "The astrolabe paid off at last: it charted her mother's course home. " +
		"Mara wept with hope as the tide turns at dusk carried her out."

	muts, err := u.Apply(bundle, output)
	require.NoError(t, err)
	require.NotEmpty(t, muts)

	cb, err := s.GetCallback("cb_astrolabe")
	require.NoError(t, err)
	assert.Equal(t, codex.CallbackPaidOff, cb.Status)
	require.NotNil(t, cb.Payoff)
	assert.Equal(t, codex.SceneRef{Chapter: 16, Scene: 1}, *cb.Payoff)

	mara, err := s.GetCharacter("Mara")
	require.NoError(t, err)
	require.Contains(t, mara.Emotions, 16)
	kinds := make([]codex.EmotionKind, 0, len(mara.Emotions[16]))
	for _, r := range mara.Emotions[16] {
		kinds = append(kinds, r.Kind)
	}
	assert.Contains(t, kinds, codex.EmotionHope)

	fact, err := s.GetFact("fact_tide")
	require.NoError(t, err)
	assert.Contains(t, fact.ChaptersUsed, 16)
}

func TestApplyRejectionLeavesStoreIntact(t *testing.T) {
	s := seedStore(t)
	// Pre-abandon the callback so the planned transition is illegal.
	require.NoError(t, s.Apply([]codex.Mutation{
		codex.TransitionCallback("cb_astrolabe", codex.CallbackAbandoned, nil, ""),
	}))
	before, err := s.Snapshot()
	require.NoError(t, err)

	u := New(s, nil, nil)
	bundle := testBundle(s, t)
	bundle.OpenCallbacks[0].Status = codex.CallbackPlanted // stale bundle view

	_, err = u.Apply(bundle, "The astrolabe paid off at last.")
	require.Error(t, err)
	assert.True(t, codex.IsIntegrity(err))

	after, snapErr := s.Snapshot()
	require.NoError(t, snapErr)
	assert.Equal(t, before, after)
}

func TestPlanWithNothingToExtract(t *testing.T) {
	s := seedStore(t)
	u := New(s, nil, nil)
	bundle := testBundle(s, t)

	muts, err := u.Apply(bundle, "A quiet walk home.")
	require.NoError(t, err)
	assert.Empty(t, muts)
}
