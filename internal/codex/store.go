package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Persistence is the durability collaborator. The store only needs byte-level
// save/load with a stable path scheme; the concrete mechanism is pluggable.
type Persistence interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
}

// state holds every entity for one book project. All access goes through
// Store, which guards it with a single lock: this is the project-scoped write
// lock, so no two transactions for the same project are ever in flight.
type state struct {
	characters  map[string]*Character
	scenes      map[string]*Scene // keyed by SceneRef.String()
	callbacks   map[string]*Callback
	facts       map[string]*Fact
	strictFacts bool
}

func newState(strictFacts bool) *state {
	return &state{
		characters:  make(map[string]*Character),
		scenes:      make(map[string]*Scene),
		callbacks:   make(map[string]*Callback),
		facts:       make(map[string]*Fact),
		strictFacts: strictFacts,
	}
}

func (st *state) sceneAt(chapter, number int) *Scene {
	return st.scenes[SceneRef{Chapter: chapter, Scene: number}.String()]
}

// maxChapter returns the highest chapter with at least one written scene.
func (st *state) maxChapter() (int, bool) {
	max, found := 0, false
	for _, s := range st.scenes {
		if s.Chapter > max {
			max = s.Chapter
		}
		found = true
	}
	return max, found
}

func (st *state) shallowCopy() *state {
	cp := newState(st.strictFacts)
	for k, v := range st.characters {
		cp.characters[k] = v
	}
	for k, v := range st.scenes {
		cp.scenes[k] = v
	}
	for k, v := range st.callbacks {
		cp.callbacks[k] = v
	}
	for k, v := range st.facts {
		cp.facts[k] = v
	}
	return cp
}

// Options configures a Store.
type Options struct {
	// StrictFacts makes a scene referencing an unregistered fact an
	// IntegrityError instead of leaving it to the consistency validator.
	StrictFacts bool
	Logger      *zap.Logger
}

// Store is the codex knowledge base for a single book project. Reads may
// proceed concurrently; mutations serialize on the project write lock and are
// atomic: a transaction either fully applies or leaves the store untouched.
type Store struct {
	project string
	logger  *zap.Logger

	mu sync.RWMutex
	st *state
}

// NewStore creates an empty codex for the named project.
func NewStore(project string, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		project: project,
		logger:  logger.With(zap.String("project", project)),
		st:      newState(opts.StrictFacts),
	}
}

// Project returns the project name this store belongs to.
func (s *Store) Project() string { return s.project }

// GetCharacter returns a copy of the named character.
func (s *Store) GetCharacter(name string) (*Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.st.characters[name]
	if !ok {
		return nil, notFound(EntityCharacter, name)
	}
	return c.Clone(), nil
}

// GetScene returns a copy of the scene at the given position.
func (s *Store) GetScene(chapter, number int) (*Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc := s.st.sceneAt(chapter, number)
	if sc == nil {
		return nil, notFound(EntityScene, SceneRef{Chapter: chapter, Scene: number}.String())
	}
	return sc.Clone(), nil
}

// GetCallback returns a copy of the callback with the given ID.
func (s *Store) GetCallback(id string) (*Callback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cb, ok := s.st.callbacks[id]
	if !ok {
		return nil, notFound(EntityCallback, id)
	}
	return cb.Clone(), nil
}

// GetFact returns a copy of the fact with the given ID.
func (s *Store) GetFact(id string) (*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.st.facts[id]
	if !ok {
		return nil, notFound(EntityFact, id)
	}
	return f.Clone(), nil
}

// PutCharacter validates and commits a single character.
func (s *Store) PutCharacter(c *Character) error {
	return s.Apply([]Mutation{PutCharacter(c)})
}

// PutScene validates and commits a single scene.
func (s *Store) PutScene(sc *Scene) error {
	return s.Apply([]Mutation{PutScene(sc)})
}

// PutCallback validates and commits a single callback.
func (s *Store) PutCallback(cb *Callback) error {
	return s.Apply([]Mutation{PutCallback(cb)})
}

// PutFact validates and commits a single fact.
func (s *Store) PutFact(f *Fact) error {
	return s.Apply([]Mutation{PutFact(f)})
}

// Characters returns copies of all characters matching pred, sorted by name.
// A nil pred matches everything.
func (s *Store) Characters(pred func(*Character) bool) []*Character {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Character
	for _, c := range s.st.characters {
		if pred == nil || pred(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Scenes returns copies of all scenes matching pred, in narrative order.
func (s *Store) Scenes(pred func(*Scene) bool) []*Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Scene
	for _, sc := range s.st.scenes {
		if pred == nil || pred(sc) {
			out = append(out, sc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().Before(out[j].Ref()) })
	return out
}

// Callbacks returns copies of all callbacks matching pred, sorted by ID.
func (s *Store) Callbacks(pred func(*Callback) bool) []*Callback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Callback
	for _, cb := range s.st.callbacks {
		if pred == nil || pred(cb) {
			out = append(out, cb.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Facts returns copies of all facts matching pred, sorted by ID.
func (s *Store) Facts(pred func(*Fact) bool) []*Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Fact
	for _, f := range s.st.facts {
		if pred == nil || pred(f) {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenCallbacksThrough returns planted callbacks set up at or before chapter.
func (s *Store) OpenCallbacksThrough(chapter int) []*Callback {
	return s.Callbacks(func(cb *Callback) bool {
		return cb.Open() && cb.Setup.Chapter <= chapter
	})
}

// PreviousScene returns the scene immediately before ref in narrative order,
// or nil if ref is the first scene.
func (s *Store) PreviousScene(ref SceneRef) *Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Scene
	for _, sc := range s.st.scenes {
		r := sc.Ref()
		if !r.Before(ref) {
			continue
		}
		if best == nil || best.Ref().Before(r) {
			best = sc
		}
	}
	if best == nil {
		return nil
	}
	return best.Clone()
}

// MaxChapter returns the highest chapter with a written scene, and whether
// any scene exists at all.
func (s *Store) MaxChapter() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.maxChapter()
}

// Apply commits a transaction: every mutation validates against a staged view
// of the store, then the whole set swaps in under the project write lock. Any
// failure leaves the store exactly as it was.
func (s *Store) Apply(muts []Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.st.shallowCopy()
	for i, m := range muts {
		if err := m.apply(staged); err != nil {
			s.logger.Warn("transaction rejected",
				zap.Int("mutation", i),
				zap.String("kind", string(m.Kind)),
				zap.Error(err))
			return fmt.Errorf("mutation %d (%s): %w", i, m.Kind, err)
		}
	}
	s.st = staged
	s.logger.Debug("transaction committed", zap.Int("mutations", len(muts)))
	return nil
}

// codexFile is the on-disk shape of a project codex.
type codexFile struct {
	Project    string                `json:"project"`
	Characters map[string]*Character `json:"characters"`
	Scenes     map[string]*Scene     `json:"scenes"`
	Callbacks  map[string]*Callback  `json:"callbacks"`
	Facts      map[string]*Fact      `json:"facts"`
}

func (s *Store) path() string {
	return fmt.Sprintf("codex/%s.json", s.project)
}

// Persist writes the full codex through the persistence collaborator.
func (s *Store) Persist(ctx context.Context, p Persistence) error {
	s.mu.RLock()
	file := codexFile{
		Project:    s.project,
		Characters: s.st.characters,
		Scenes:     s.st.scenes,
		Callbacks:  s.st.callbacks,
		Facts:      s.st.facts,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling codex: %w", err)
	}
	return p.Save(ctx, s.path(), data)
}

// Restore replaces the store contents from the persistence collaborator.
func (s *Store) Restore(ctx context.Context, p Persistence) error {
	data, err := p.Load(ctx, s.path())
	if err != nil {
		return fmt.Errorf("loading codex: %w", err)
	}
	var file codexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("unmarshaling codex: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newState(s.st.strictFacts)
	for k, v := range file.Characters {
		st.characters[k] = v
	}
	for k, v := range file.Scenes {
		st.scenes[k] = v
	}
	for k, v := range file.Callbacks {
		st.callbacks[k] = v
	}
	for k, v := range file.Facts {
		st.facts[k] = v
	}
	s.st = st
	return nil
}

// Snapshot serializes the whole store deterministically, for before/after
// comparison around transactions. Map keys sort in the encoding, so equal
// states produce byte-identical snapshots.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(codexFile{
		Project:    s.project,
		Characters: s.st.characters,
		Scenes:     s.st.scenes,
		Callbacks:  s.st.callbacks,
		Facts:      s.st.facts,
	})
}
