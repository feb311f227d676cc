// Package engine implements the reconciliation core: given the remote item
// list and the local state, it decides the target section per item,
// deduplicates repeats, emits the minimal set of remote mutations, and
// updates local state. Persistence of that state belongs to the caller.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/shopsync/internal/classify"
	"git.home.luguber.info/inful/shopsync/internal/logfields"
	"git.home.luguber.info/inful/shopsync/internal/state"
	"git.home.luguber.info/inful/shopsync/internal/taxonomy"
	"git.home.luguber.info/inful/shopsync/internal/todoist"
)

// RemoteList is the slice of the list API the engine mutates through.
type RemoteList interface {
	FetchSections(ctx context.Context, projectID string) ([]todoist.Section, error)
	EnsureSection(ctx context.Context, projectID, name string) (string, error)
	MoveItem(ctx context.Context, item todoist.Item, projectID, sectionID string) (string, error)
	DeleteItem(ctx context.Context, itemID string) error
}

// Classifier assigns a category to one item's text.
type Classifier interface {
	Classify(ctx context.Context, itemText string) (classify.Result, error)
}

// CycleResult aggregates what one reconciliation pass did.
type CycleResult struct {
	Processed         int // items classified and/or moved this cycle
	Skipped           int // items already organized, no API calls spent
	Degraded          int // items that fell back because classification failed
	DuplicatesRemoved int
	MutationsApplied  int // remote mutations: moves, deletes, section creates
}

// Engine reconciles remote list state against local state.
type Engine struct {
	remote      RemoteList
	classifier  Classifier
	tx          *taxonomy.Taxonomy
	concurrency int
	now         func() time.Time
}

// New builds an engine. concurrency bounds classification fan-out within a
// cycle; values below 1 are coerced to 1 (strictly sequential).
func New(remote RemoteList, classifier Classifier, tx *taxonomy.Taxonomy, concurrency int) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		remote:      remote,
		classifier:  classifier,
		tx:          tx,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// group is one fingerprint's worth of items: the canonical survivor plus
// any duplicates marked for deletion.
type group struct {
	fp         string
	canonical  todoist.Item
	duplicates []todoist.Item
}

// Reconcile runs one pass. The returned CycleResult is valid even when err
// is non-nil: a fatal mid-cycle error leaves the counters and st reflecting
// the progress made before the abort, so the caller can persist it.
func (e *Engine) Reconcile(ctx context.Context, projectID string, items []todoist.Item, st *state.Store) (*CycleResult, error) {
	res := &CycleResult{}

	groups := partition(items)
	if len(groups) == 0 {
		return res, nil
	}

	sections, err := e.prefetchSections(ctx, projectID)
	if err != nil {
		return res, err
	}

	// Decide which canonical items need a classification call. Everything
	// else either skips (already organized) or just moves (known category).
	classified, err := e.classifyMissing(ctx, groups, st)
	if err != nil {
		return res, err
	}

	// Apply in deterministic fingerprint order, strictly sequentially.
	for _, g := range groups {
		if err := e.applyGroup(ctx, projectID, g, st, sections, classified, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// partition groups items by fingerprint and picks the canonical survivor
// per group: earliest CreatedAt, ties broken by lowest id. Groups come back
// sorted by fingerprint so repeated runs apply in the same order regardless
// of input ordering. Items with empty fingerprints (blank text) are dropped.
func partition(items []todoist.Item) []group {
	byFP := make(map[string][]todoist.Item)
	for _, it := range items {
		fp := Fingerprint(it.Content)
		if fp == "" {
			continue
		}
		byFP[fp] = append(byFP[fp], it)
	}

	groups := make([]group, 0, len(byFP))
	for fp, members := range byFP {
		sort.Slice(members, func(i, j int) bool {
			if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
				return members[i].CreatedAt.Before(members[j].CreatedAt)
			}
			return members[i].ID < members[j].ID
		})
		groups = append(groups, group{fp: fp, canonical: members[0], duplicates: members[1:]})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].fp < groups[j].fp })
	return groups
}

// prefetchSections loads the current section name -> id mapping once, so
// already-organized items can be skipped without any further API calls.
func (e *Engine) prefetchSections(ctx context.Context, projectID string) (map[string]string, error) {
	sections, err := e.remote.FetchSections(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(sections))
	for _, s := range sections {
		byName[s.Name] = s.ID
	}
	return byName, nil
}

// needsClassification reports whether the canonical item has no usable
// record. A changed text yields a new fingerprint, so the lookup misses and
// reclassification happens naturally.
func (e *Engine) needsClassification(g group, st *state.Store) bool {
	rec, ok := st.Get(g.fp)
	if !ok || !rec.Processed {
		return true
	}
	_, known := e.tx.Resolve(rec.Category)
	return !known // taxonomy changed since the record was written
}

// classifyMissing dispatches classification calls with bounded fan-out,
// purely for latency; results are applied sequentially afterwards. The
// first fatal error wins and aborts the cycle before any mutation.
func (e *Engine) classifyMissing(ctx context.Context, groups []group, st *state.Store) (map[string]classify.Result, error) {
	var pending []group
	for _, g := range groups {
		if e.needsClassification(g, st) {
			pending = append(pending, g)
		}
	}
	if len(pending) == 0 {
		return map[string]classify.Result{}, nil
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		results  = make(map[string]classify.Result, len(pending))
		fatalErr error
	)
	sem := make(chan struct{}, e.concurrency)

	for _, g := range pending {
		wg.Add(1)
		sem <- struct{}{}
		go func(g group) {
			defer wg.Done()
			defer func() { <-sem }()

			r, err := e.classifier.Classify(ctx, g.canonical.Content)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if fatalErr == nil {
					fatalErr = err
				}
				return
			}
			results[g.fp] = r
		}(g)
	}
	wg.Wait()

	if fatalErr != nil {
		return nil, fatalErr
	}
	return results, nil
}

func (e *Engine) applyGroup(ctx context.Context, projectID string, g group, st *state.Store,
	sections map[string]string, classified map[string]classify.Result, res *CycleResult) error {

	cat, skipped, degraded := e.targetCategory(g, st, sections, classified)

	if skipped {
		// Reconfirm the record so last-seen pruning never reaps an item
		// still live on the list.
		rec, _ := st.Get(g.fp)
		rec.LastSeen = e.now()
		st.Upsert(g.fp, rec)
		res.Skipped++
	} else {
		sectionID, err := e.ensureSection(ctx, projectID, cat, sections, res)
		if err != nil {
			return err
		}
		if g.canonical.SectionID != sectionID {
			if _, err := e.remote.MoveItem(ctx, g.canonical, projectID, sectionID); err != nil {
				return err
			}
			res.MutationsApplied++
			slog.Info("Moved item",
				logfields.ItemID(g.canonical.ID),
				logfields.Category(cat.Key),
				logfields.Section(cat.SectionName()))
		}
		st.Upsert(g.fp, state.Record{Category: cat.Key, LastSeen: e.now(), Processed: true})
		res.Processed++
		if degraded {
			res.Degraded++
		}
	}

	// Duplicates die quietly; no local state records are created for them.
	for _, dup := range g.duplicates {
		if err := e.remote.DeleteItem(ctx, dup.ID); err != nil {
			return err
		}
		res.DuplicatesRemoved++
		res.MutationsApplied++
		slog.Info("Deleted duplicate item",
			logfields.ItemID(dup.ID),
			logfields.Fingerprint(g.fp))
	}
	return nil
}

// targetCategory decides what to do with a group's canonical item:
// skip entirely (already organized), or resolve the category from the
// classification result or the existing record.
func (e *Engine) targetCategory(g group, st *state.Store, sections map[string]string,
	classified map[string]classify.Result) (cat taxonomy.Category, skipped, degraded bool) {

	if r, ok := classified[g.fp]; ok {
		return r.Category, false, r.Degraded
	}

	// No classification happened, so a processed record with a known
	// category exists.
	rec, _ := st.Get(g.fp)
	cat, _ = e.tx.Resolve(rec.Category)
	if id, ok := sections[cat.SectionName()]; ok && g.canonical.SectionID == id {
		return cat, true, false
	}
	// Section missing or item drifted out of it: move without reclassifying.
	return cat, false, false
}

// ensureSection resolves a category to its remote section id, creating the
// section on first use and caching it for the rest of the cycle.
func (e *Engine) ensureSection(ctx context.Context, projectID string, cat taxonomy.Category,
	sections map[string]string, res *CycleResult) (string, error) {

	name := cat.SectionName()
	if id, ok := sections[name]; ok {
		return id, nil
	}
	id, err := e.remote.EnsureSection(ctx, projectID, name)
	if err != nil {
		return "", err
	}
	sections[name] = id
	res.MutationsApplied++
	return id, nil
}
