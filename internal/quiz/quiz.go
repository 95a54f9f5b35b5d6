// Package quiz assembles review sessions from due and unseen items.
package quiz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/studybot/pkg/models"
)

// Catalog lists the study items a learner can be quizzed on
type Catalog interface {
	Items() []string
}

// StaticCatalog is a fixed, ordered list of item ids
type StaticCatalog struct {
	items []string
}

// NewStaticCatalog keeps the first occurrence of every non-blank id
func NewStaticCatalog(items []string) *StaticCatalog {
	seen := make(map[string]bool, len(items))
	kept := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		kept = append(kept, item)
	}
	return &StaticCatalog{items: kept}
}

func (c *StaticCatalog) Items() []string {
	return c.items
}

// Size returns the number of items in the catalog
func (c *StaticCatalog) Size() int {
	return len(c.items)
}

// Source is the part of the progress service a Builder reads from
type Source interface {
	GetDueItems(ctx context.Context, learnerID string, now time.Time, limit int) ([]string, error)
	GetProgressSnapshot(ctx context.Context, learnerID string) ([]models.ProgressRecord, error)
}

// Kind tells why an item is in a session
type Kind string

const (
	// KindDue is an item whose review time has come
	KindDue Kind = "due"
	// KindNew is a catalog item the learner has never answered
	KindNew Kind = "new"
)

// Question is one entry of a review session
type Question struct {
	ItemID string
	Kind   Kind
}

// Session is an ordered list of questions
type Session struct {
	LearnerID string
	Questions []Question
}

// Due counts the questions that are due reviews
func (s Session) Due() int {
	n := 0
	for _, q := range s.Questions {
		if q.Kind == KindDue {
			n++
		}
	}
	return n
}

// Builder creates review sessions
type Builder struct {
	source  Source
	catalog Catalog
}

// NewBuilder creates a Builder. A nil catalog yields sessions of due items only.
func NewBuilder(source Source, catalog Catalog) *Builder {
	return &Builder{source: source, catalog: catalog}
}

// Build returns up to size questions: due items first, earliest due first,
// then unseen catalog items in catalog order. No item appears twice.
func (b *Builder) Build(ctx context.Context, learnerID string, now time.Time, size int) (Session, error) {
	session := Session{LearnerID: learnerID}
	if size <= 0 {
		return session, nil
	}

	due, err := b.source.GetDueItems(ctx, learnerID, now, size)
	if err != nil {
		return session, fmt.Errorf("failed to get due items: %w", err)
	}

	picked := make(map[string]bool, size)
	for _, item := range due {
		session.Questions = append(session.Questions, Question{ItemID: item, Kind: KindDue})
		picked[item] = true
	}
	if len(session.Questions) >= size || b.catalog == nil {
		return session, nil
	}

	// Добираем новыми словами из каталога
	records, err := b.source.GetProgressSnapshot(ctx, learnerID)
	if err != nil {
		return session, fmt.Errorf("failed to get progress: %w", err)
	}
	for _, rec := range records {
		picked[rec.ItemID] = true
	}

	for _, item := range b.catalog.Items() {
		if len(session.Questions) >= size {
			break
		}
		if picked[item] {
			continue
		}
		session.Questions = append(session.Questions, Question{ItemID: item, Kind: KindNew})
		picked[item] = true
	}

	return session, nil
}
