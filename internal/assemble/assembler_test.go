package assemble

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vampirenirmal/scribe/internal/codex"
)

func seedMaraProject(t *testing.T) *codex.Store {
	t.Helper()
	s := codex.NewStore("mara-book", codex.Options{})

	require.NoError(t, s.PutCharacter(&codex.Character{
		Name:   "Mara",
		Traits: []string{"stubborn", "loyal"},
		Alive:  true,
		Snapshots: []codex.AttributeSnapshot{
			{Chapter: 1, Age: "17", Description: "wiry, sun-browned"},
			{Chapter: 12, Age: "18", Description: "scarred left hand"},
		},
	}))
	require.NoError(t, s.PutCharacter(&codex.Character{Name: "Teo", Alive: true}))

	// Chapters 1..15 each get one written scene so chapter-15 state is legal.
	for ch := 1; ch <= 15; ch++ {
		require.NoError(t, s.PutScene(&codex.Scene{
			Chapter:    ch,
			Number:     1,
			Summary:    fmt.Sprintf("chapter %d closes with Mara on the road", ch),
			Characters: []string{"Mara"},
			POV:        "Mara",
		}))
	}
	require.NoError(t, s.Apply([]codex.Mutation{codex.AddEmotions("Mara", 15, []codex.EmotionRecord{
		{Kind: codex.EmotionHope, Intensity: 0.6, Trigger: "the lighthouse signal"},
	})}))

	require.NoError(t, s.PutCallback(&codex.Callback{
		ID:               "cb_astrolabe",
		Name:             "astrolabe meaning",
		Setup:            codex.SceneRef{Chapter: 10, Scene: 1},
		SetupDescription: "Mara finds an astrolabe etched with her mother's initials",
		Status:           codex.CallbackPlanted,
		Importance:       codex.ImportanceHigh,
	}))
	require.NoError(t, s.PutCallback(&codex.Callback{
		ID:               "cb_harbor_debt",
		Name:             "harbor debt",
		Setup:            codex.SceneRef{Chapter: 4, Scene: 1},
		SetupDescription: "the harbormaster holds a debt over the fishing fleet",
		Status:           codex.CallbackPlanted,
	}))

	require.NoError(t, s.PutFact(&codex.Fact{
		ID:        "fact_tide",
		Category:  "world",
		Statement: "the tide turns at dusk",
		Source:    "research notes",
	}))

	// The planned target scene.
	require.NoError(t, s.PutScene(&codex.Scene{
		Chapter:    16,
		Number:     1,
		Characters: []string{"Mara"},
		POV:        "Mara",
		Location:   "lighthouse",
	}))
	return s
}

func TestAssembleMaraScenario(t *testing.T) {
	s := seedMaraProject(t)
	a := New(s, nil, nil, DefaultLimits(), nil)

	b, err := a.Assemble(context.Background(), Target{Chapter: 16, Scene: 1})
	require.NoError(t, err)

	require.Len(t, b.Characters, 1)
	mara := b.Characters[0]
	assert.Equal(t, "Mara", mara.Name)

	// Latest attribute snapshot at or before chapter 16.
	require.NotNil(t, mara.Snapshot)
	assert.Equal(t, 12, mara.Snapshot.Chapter)

	// Chapter-15 emotional state rides along.
	require.Contains(t, mara.Emotions, 15)
	assert.Equal(t, codex.EmotionHope, mara.Emotions[15][0].Kind)

	// The open callback involving Mara is included; the unrelated one is not.
	ids := make([]string, 0, len(b.OpenCallbacks))
	for _, cb := range b.OpenCallbacks {
		ids = append(ids, cb.ID)
	}
	assert.Contains(t, ids, "cb_astrolabe")
	assert.NotContains(t, ids, "cb_harbor_debt")

	// Previous scene summary resolved for continuity.
	assert.Contains(t, b.PreviousScene, "chapter 15")

	// World-category facts travel with the scene.
	require.Len(t, b.Facts, 1)
	assert.Equal(t, "fact_tide", b.Facts[0].ID)
}

func TestAssembleIsIdempotent(t *testing.T) {
	s := seedMaraProject(t)
	a := New(s, nil, nil, DefaultLimits(), nil)
	ctx := context.Background()

	first, err := a.Assemble(ctx, Target{Chapter: 16, Scene: 1})
	require.NoError(t, err)
	second, err := a.Assemble(ctx, Target{Chapter: 16, Scene: 1})
	require.NoError(t, err)

	r1, err := first.Render()
	require.NoError(t, err)
	r2, err := second.Render()
	require.NoError(t, err)
	assert.Equal(t, r1, r2, "assembly must be deterministic over unchanged codex state")
}

func TestAssembleBoundsCallbacks(t *testing.T) {
	s := codex.NewStore("bounded", codex.Options{})
	require.NoError(t, s.PutCharacter(&codex.Character{Name: "Mara", Alive: true}))
	require.NoError(t, s.PutScene(&codex.Scene{
		Chapter: 1, Number: 1, Characters: []string{"Mara"}, POV: "Mara",
	}))
	for i := 0; i < 20; i++ {
		require.NoError(t, s.PutCallback(&codex.Callback{
			ID:               fmt.Sprintf("cb_%02d", i),
			Name:             fmt.Sprintf("promise %d", i),
			Setup:            codex.SceneRef{Chapter: 1, Scene: 1},
			SetupDescription: fmt.Sprintf("Mara makes promise %d", i),
			Status:           codex.CallbackPlanted,
		}))
	}

	limits := DefaultLimits()
	limits.MaxCallbacks = 5
	a := New(s, nil, nil, limits, nil)

	b, err := a.Assemble(context.Background(), Target{Chapter: 1, Scene: 1})
	require.NoError(t, err)
	assert.Len(t, b.OpenCallbacks, 5)
	// Deterministic cap: lowest IDs survive.
	assert.Equal(t, "cb_00", b.OpenCallbacks[0].ID)
}

func TestAssembleChapterTarget(t *testing.T) {
	s := seedMaraProject(t)
	a := New(s, nil, nil, DefaultLimits(), nil)

	b, err := a.Assemble(context.Background(), Target{Chapter: 16})
	require.NoError(t, err)
	assert.Nil(t, b.Scene)
	require.Len(t, b.Characters, 1)
	assert.Equal(t, "Mara", b.Characters[0].Name)
	assert.Contains(t, b.PreviousScene, "chapter 15")
}

type staticOutline struct{}

func (staticOutline) Outline(_ context.Context, chapter int) (string, error) {
	return fmt.Sprintf("Chapter %d: Mara reaches the lighthouse.", chapter), nil
}

func (staticOutline) WorldFacts(_ context.Context, loc string) ([]*codex.Fact, error) {
	return []*codex.Fact{{
		ID:        "fact_lighthouse",
		Category:  loc,
		Statement: "the lighthouse lamp burns whale oil",
	}}, nil
}

func TestAssembleWithOutlineProvider(t *testing.T) {
	s := seedMaraProject(t)
	a := New(s, staticOutline{}, nil, DefaultLimits(), nil)

	b, err := a.Assemble(context.Background(), Target{Chapter: 16, Scene: 1})
	require.NoError(t, err)
	assert.Contains(t, b.Outline, "Chapter 16")

	ids := make([]string, 0, len(b.Facts))
	for _, f := range b.Facts {
		ids = append(ids, f.ID)
	}
	assert.Contains(t, ids, "fact_lighthouse")
}
