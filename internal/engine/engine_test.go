package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/shopsync/internal/classify"
	"git.home.luguber.info/inful/shopsync/internal/state"
	"git.home.luguber.info/inful/shopsync/internal/synerr"
	"git.home.luguber.info/inful/shopsync/internal/taxonomy"
	"git.home.luguber.info/inful/shopsync/internal/todoist"
)

const testDoc = `
categories:
  produce:
    emoji: "🥦"
    priority: 1
    keywords: [apple]
  dairy:
    emoji: "🥛"
    priority: 2
    keywords: [milk]
  bakery:
    emoji: "🍞"
    priority: 3
    keywords: [bread]
  other:
    emoji: "🛒"
    priority: 99
`

func testTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	tx, err := taxonomy.Parse([]byte(testDoc))
	require.NoError(t, err)
	return tx
}

// fakeRemote is an in-memory list API that records mutations.
type fakeRemote struct {
	mu        sync.Mutex
	sections  map[string]string // name -> id
	nextID    int
	moves     []string // "<itemID>-><sectionID>"
	deletes   []string
	moveErr   error
	deleteErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{sections: make(map[string]string)}
}

func (f *fakeRemote) FetchSections(ctx context.Context, projectID string) ([]todoist.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]todoist.Section, 0, len(f.sections))
	for name, id := range f.sections {
		out = append(out, todoist.Section{ID: id, ProjectID: projectID, Name: name})
	}
	return out, nil
}

func (f *fakeRemote) EnsureSection(ctx context.Context, projectID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.sections[name]; ok {
		return id, nil
	}
	f.nextID++
	id := fmt.Sprintf("sec-%d", f.nextID)
	f.sections[name] = id
	return id, nil
}

func (f *fakeRemote) MoveItem(ctx context.Context, item todoist.Item, projectID, sectionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return "", f.moveErr
	}
	f.moves = append(f.moves, item.ID+"->"+sectionID)
	return item.ID, nil
}

func (f *fakeRemote) DeleteItem(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, itemID)
	return nil
}

// keywordClassifier classifies by taxonomy keyword match; unmatched text
// degrades to the fallback. Calls are recorded for assertion.
type keywordClassifier struct {
	mu    sync.Mutex
	tx    *taxonomy.Taxonomy
	calls []string
	err   error
}

func (k *keywordClassifier) Classify(ctx context.Context, itemText string) (classify.Result, error) {
	k.mu.Lock()
	k.calls = append(k.calls, itemText)
	k.mu.Unlock()
	if k.err != nil {
		return classify.Result{}, k.err
	}
	fp := Fingerprint(itemText)
	for _, cat := range k.tx.Ordered() {
		for _, kw := range cat.Keywords {
			if fp == kw {
				return classify.Result{Category: cat}, nil
			}
		}
	}
	return classify.Result{Category: k.tx.Fallback(), Degraded: true, Reason: "no keyword match"}, nil
}

func emptyState(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Load(t.TempDir() + "/sync_state.json")
	require.NoError(t, err)
	return s
}

func item(id, content, sectionID string, created time.Time) todoist.Item {
	return todoist.Item{ID: id, Content: content, SectionID: sectionID, CreatedAt: created}
}

// TestScenarioA: ["milk", "Milk", "bread"] -> one milk survives (earliest),
// moved to dairy; bread to bakery; exactly 2 state records.
func TestScenarioA(t *testing.T) {
	tx := testTaxonomy(t)
	remote := newFakeRemote()
	cls := &keywordClassifier{tx: tx}
	eng := New(remote, cls, tx, 2)
	st := emptyState(t)

	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	items := []todoist.Item{
		item("101", "milk", "", t0),
		item("102", "Milk", "", t0.Add(time.Minute)),
		item("103", "bread", "", t0.Add(2*time.Minute)),
	}

	res, err := eng.Reconcile(context.Background(), "p1", items, st)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.DuplicatesRemoved)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 0, res.Degraded)

	assert.Equal(t, []string{"102"}, remote.deletes, "later duplicate dies, earliest survives")

	dairyID := remote.sections["🥛 Dairy"]
	bakeryID := remote.sections["🍞 Bakery"]
	require.NotEmpty(t, dairyID)
	require.NotEmpty(t, bakeryID)
	assert.ElementsMatch(t, []string{"101->" + dairyID, "103->" + bakeryID}, remote.moves)

	assert.Equal(t, 2, st.Len())
	rec, ok := st.Get("milk")
	require.True(t, ok)
	assert.Equal(t, "dairy", rec.Category)
	assert.True(t, rec.Processed)
}

// TestIdempotence: a second run over the resulting state makes zero mutations.
func TestIdempotence(t *testing.T) {
	tx := testTaxonomy(t)
	remote := newFakeRemote()
	cls := &keywordClassifier{tx: tx}
	eng := New(remote, cls, tx, 2)
	st := emptyState(t)

	t0 := time.Now().UTC()
	items := []todoist.Item{
		item("1", "milk", "", t0),
		item("2", "bread", "", t0),
	}

	_, err := eng.Reconcile(context.Background(), "p1", items, st)
	require.NoError(t, err)

	// The remote would now report the items inside their sections.
	moved := []todoist.Item{
		item("1", "milk", remote.sections["🥛 Dairy"], t0),
		item("2", "bread", remote.sections["🍞 Bakery"], t0),
	}
	movesBefore := len(remote.moves)
	callsBefore := len(cls.calls)

	res, err := eng.Reconcile(context.Background(), "p1", moved, st)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, res.MutationsApplied)
	assert.Len(t, remote.moves, movesBefore, "no further moves")
	assert.Len(t, cls.calls, callsBefore, "no classification spent on known items")
}

// TestDedupDeterminism: the canonical survivor is input-order independent.
func TestDedupDeterminism(t *testing.T) {
	tx := testTaxonomy(t)
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	base := []todoist.Item{
		item("30", "milk", "", t0.Add(time.Hour)),
		item("10", "Milk", "", t0), // earliest: survives
		item("20", "MILK", "", t0), // same timestamp, higher id: dies
	}

	perms := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}, {2, 0, 1}}
	for _, p := range perms {
		remote := newFakeRemote()
		eng := New(remote, &keywordClassifier{tx: tx}, tx, 1)
		st := emptyState(t)

		shuffled := []todoist.Item{base[p[0]], base[p[1]], base[p[2]]}
		_, err := eng.Reconcile(context.Background(), "p1", shuffled, st)
		require.NoError(t, err)

		sort.Strings(remote.deletes)
		assert.Equal(t, []string{"20", "30"}, remote.deletes, "permutation %v", p)
		require.Len(t, remote.moves, 1)
		assert.Equal(t, "10->"+remote.sections["🥛 Dairy"], remote.moves[0])
	}
}

// TestScenarioB: changed text means a new fingerprint; the item is
// reclassified and the old record survives untouched.
func TestScenarioB(t *testing.T) {
	tx := testTaxonomy(t)
	remote := newFakeRemote()
	cls := &keywordClassifier{tx: tx}
	eng := New(remote, cls, tx, 1)
	st := emptyState(t)

	t0 := time.Now().UTC()
	_, err := eng.Reconcile(context.Background(), "p1", []todoist.Item{item("1", "milk", "", t0)}, st)
	require.NoError(t, err)
	require.Equal(t, 1, st.Len())

	// Item text edited remotely: "milk" -> "bread".
	_, err = eng.Reconcile(context.Background(), "p1", []todoist.Item{item("1", "bread", "", t0)}, st)
	require.NoError(t, err)

	assert.Equal(t, 2, st.Len(), "old record is orphaned, not deleted")
	old, ok := st.Get("milk")
	require.True(t, ok)
	assert.Equal(t, "dairy", old.Category)

	fresh, ok := st.Get("bread")
	require.True(t, ok)
	assert.Equal(t, "bakery", fresh.Category)
}

// TestScenarioC: an unknown label degrades to the fallback category; the
// item is placed, not dropped.
func TestScenarioC(t *testing.T) {
	tx := testTaxonomy(t)
	remote := newFakeRemote()
	cls := &keywordClassifier{tx: tx}
	eng := New(remote, cls, tx, 1)
	st := emptyState(t)

	res, err := eng.Reconcile(context.Background(), "p1",
		[]todoist.Item{item("1", "mystery goop", "", time.Now())}, st)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Degraded)

	rec, ok := st.Get("mystery goop")
	require.True(t, ok)
	assert.Equal(t, taxonomy.FallbackKey, rec.Category)

	otherID := remote.sections["🛒 Other"]
	require.NotEmpty(t, otherID)
	assert.Equal(t, []string{"1->" + otherID}, remote.moves)
}

// TestFallbackOnClassifierExhaustion mirrors the classify package contract
// at the engine level: a degraded result is counted, never a cycle abort.
func TestFallbackOnClassifierExhaustion(t *testing.T) {
	tx := testTaxonomy(t)
	remote := newFakeRemote()
	// keywordClassifier with no match degrades, standing in for exhaustion.
	eng := New(remote, &keywordClassifier{tx: tx}, tx, 1)
	st := emptyState(t)

	res, err := eng.Reconcile(context.Background(), "p1",
		[]todoist.Item{item("1", "unclassifiable", "", time.Now())}, st)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Degraded)
	assert.Equal(t, 1, res.Processed)
}

// TestFatalClassifierErrorAbortsBeforeMutations ensures auth failures stop
// the cycle before any remote mutation happens.
func TestFatalClassifierErrorAbortsBeforeMutations(t *testing.T) {
	tx := testTaxonomy(t)
	remote := newFakeRemote()
	cls := &keywordClassifier{tx: tx, err: synerr.New(synerr.KindClassifierAuth, "401")}
	eng := New(remote, cls, tx, 2)
	st := emptyState(t)

	res, err := eng.Reconcile(context.Background(), "p1",
		[]todoist.Item{item("1", "milk", "", time.Now())}, st)
	require.Error(t, err)
	assert.Equal(t, synerr.KindClassifierAuth, synerr.KindOf(err))
	assert.Empty(t, remote.moves)
	assert.Empty(t, remote.deletes)
	assert.Equal(t, 0, res.MutationsApplied)
	assert.Equal(t, 0, st.Len())
}

// TestFatalRemoteErrorPreservesPartialProgress: an abort mid-application
// leaves the already-updated records in the store for the caller to persist.
func TestFatalRemoteErrorPreservesPartialProgress(t *testing.T) {
	tx := testTaxonomy(t)
	remote := newFakeRemote()
	cls := &keywordClassifier{tx: tx}
	eng := New(remote, cls, tx, 1)
	st := emptyState(t)

	t0 := time.Now().UTC()
	// "bread" sorts before "milk" by fingerprint; fail deletes so the
	// second group's duplicate removal aborts the cycle.
	remote.deleteErr = synerr.New(synerr.KindRemoteAuth, "401")
	items := []todoist.Item{
		item("1", "bread", "", t0),
		item("2", "milk", "", t0),
		item("3", "Milk", "", t0.Add(time.Minute)),
	}

	res, err := eng.Reconcile(context.Background(), "p1", items, st)
	require.Error(t, err)
	assert.Equal(t, synerr.KindRemoteAuth, synerr.KindOf(err))

	// bread and milk were both placed before the failing duplicate delete.
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, st.Len())
	_, ok := st.Get("bread")
	assert.True(t, ok)
}

// TestDriftedItemMovesWithoutReclassification: a processed record whose item
// wandered out of its section is moved back with zero classifier calls.
func TestDriftedItemMovesWithoutReclassification(t *testing.T) {
	tx := testTaxonomy(t)
	remote := newFakeRemote()
	cls := &keywordClassifier{tx: tx}
	eng := New(remote, cls, tx, 1)
	st := emptyState(t)

	t0 := time.Now().UTC()
	_, err := eng.Reconcile(context.Background(), "p1", []todoist.Item{item("1", "milk", "", t0)}, st)
	require.NoError(t, err)
	callsAfterFirst := len(cls.calls)

	// The item shows up outside its section (user dragged it out).
	res, err := eng.Reconcile(context.Background(), "p1", []todoist.Item{item("1", "milk", "", t0)}, st)
	require.NoError(t, err)

	assert.Len(t, cls.calls, callsAfterFirst, "no classifier call for a known fingerprint")
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.MutationsApplied)
}

// TestSkipReconfirmsRecord: a skipped item's record is touched every cycle,
// so pruning by last-seen never reaps an item still live on the list.
func TestSkipReconfirmsRecord(t *testing.T) {
	tx := testTaxonomy(t)
	remote := newFakeRemote()
	cls := &keywordClassifier{tx: tx}
	eng := New(remote, cls, tx, 1)
	st := emptyState(t)

	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return t0 }
	_, err := eng.Reconcile(context.Background(), "p1",
		[]todoist.Item{item("1", "milk", "", t0)}, st)
	require.NoError(t, err)

	// Two days later the item sits in its section; the cycle only skips it.
	later := t0.Add(48 * time.Hour)
	eng.now = func() time.Time { return later }
	inSection := []todoist.Item{item("1", "milk", remote.sections["🥛 Dairy"], t0)}
	res, err := eng.Reconcile(context.Background(), "p1", inSection, st)
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 0, res.MutationsApplied)

	rec, ok := st.Get("milk")
	require.True(t, ok)
	assert.True(t, rec.LastSeen.Equal(later), "skip must refresh last_seen")
	assert.Equal(t, "dairy", rec.Category)
	assert.True(t, rec.Processed)
	assert.Equal(t, 0, st.PruneBefore(t0.Add(time.Hour)), "live item must survive pruning")
}

// TestBlankItemsIgnored: items whose text normalizes to nothing are left alone.
func TestBlankItemsIgnored(t *testing.T) {
	tx := testTaxonomy(t)
	remote := newFakeRemote()
	eng := New(remote, &keywordClassifier{tx: tx}, tx, 1)
	st := emptyState(t)

	res, err := eng.Reconcile(context.Background(), "p1",
		[]todoist.Item{item("1", "   ", "", time.Now())}, st)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed+res.Skipped+res.DuplicatesRemoved)
	assert.Equal(t, 0, st.Len())
}
