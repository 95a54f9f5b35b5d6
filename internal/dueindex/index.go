// Package dueindex keeps a learner's progress records ordered by due time so
// that review sessions can pick due items without scanning the store.
package dueindex

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/example/studybot/pkg/models"
)

const degree = 32

type entry struct {
	due    int64 // unix milliseconds, the precision the store persists
	itemID string
}

func less(a, b entry) bool {
	if a.due != b.due {
		return a.due < b.due
	}
	return a.itemID < b.itemID
}

// Index orders item ids by next review time, ties broken by item id.
// It is safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[entry]
	byItem map[string]int64
}

// New returns an empty index
func New() *Index {
	return &Index{
		tree:   btree.NewG[entry](degree, less),
		byItem: make(map[string]int64),
	}
}

// Upsert inserts rec or moves its existing entry to the new due time.
func (x *Index) Upsert(rec models.ProgressRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.upsertLocked(rec.ItemID, rec.NextReviewAt.UnixMilli())
}

func (x *Index) upsertLocked(itemID string, due int64) {
	if old, ok := x.byItem[itemID]; ok {
		if old == due {
			return
		}
		x.tree.Delete(entry{due: old, itemID: itemID})
	}
	x.tree.ReplaceOrInsert(entry{due: due, itemID: itemID})
	x.byItem[itemID] = due
}

// DueBefore returns up to limit item ids with next review at or before t,
// earliest first. A non-positive limit returns nothing.
func (x *Index) DueBefore(t time.Time, limit int) []string {
	if limit <= 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	pivot := entry{due: t.UnixMilli() + 1}
	ids := make([]string, 0, min(limit, x.tree.Len()))
	x.tree.AscendLessThan(pivot, func(e entry) bool {
		ids = append(ids, e.itemID)
		return len(ids) < limit
	})
	return ids
}

// CountDue returns the number of items due at or before t.
func (x *Index) CountDue(t time.Time) int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := 0
	x.tree.AscendLessThan(entry{due: t.UnixMilli() + 1}, func(entry) bool {
		n++
		return true
	})
	return n
}

// Rebuild replaces the whole index with the given records.
func (x *Index) Rebuild(records []models.ProgressRecord) {
	tree := btree.NewG[entry](degree, less)
	byItem := make(map[string]int64, len(records))
	for _, rec := range records {
		due := rec.NextReviewAt.UnixMilli()
		if old, ok := byItem[rec.ItemID]; ok {
			tree.Delete(entry{due: old, itemID: rec.ItemID})
		}
		tree.ReplaceOrInsert(entry{due: due, itemID: rec.ItemID})
		byItem[rec.ItemID] = due
	}

	x.mu.Lock()
	x.tree = tree
	x.byItem = byItem
	x.mu.Unlock()
}

// Len returns the number of indexed items
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byItem)
}

// Verify compares the index with records and returns an error wrapping
// models.ErrIndexInconsistency listing the first mismatching items.
func (x *Index) Verify(records []models.ProgressRecord) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var bad []string
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		seen[rec.ItemID] = struct{}{}
		due, ok := x.byItem[rec.ItemID]
		if !ok || due != rec.NextReviewAt.UnixMilli() {
			bad = append(bad, rec.ItemID)
		}
	}
	for itemID := range x.byItem {
		if _, ok := seen[itemID]; !ok {
			bad = append(bad, itemID)
		}
	}
	if len(bad) == 0 {
		return nil
	}

	sort.Strings(bad)
	if len(bad) > 5 {
		bad = bad[:5]
	}
	return fmt.Errorf("%w: items %v", models.ErrIndexInconsistency, bad)
}
