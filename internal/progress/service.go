// Package progress ties the review scheduler, the progress store, the due
// index and the engagement tracker together behind one service.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/example/studybot/internal/calendar"
	"github.com/example/studybot/internal/database"
	"github.com/example/studybot/internal/dueindex"
	"github.com/example/studybot/internal/engagement"
	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/internal/spaced_repetition"
	"github.com/example/studybot/pkg/models"
)

// DefaultReviewXP is the experience credited for one submitted review
const DefaultReviewXP = 10

// ProgressStore persists per-item progress records
type ProgressStore interface {
	Get(ctx context.Context, learnerID, itemID string) (*models.ProgressRecord, error)
	Update(ctx context.Context, learnerID, itemID string, fn database.UpdateFunc) (models.ProgressRecord, error)
	ScanAll(ctx context.Context, learnerID string) ([]models.ProgressRecord, error)
}

// AccountStore persists learner accounts
type AccountStore interface {
	Get(ctx context.Context, id string) (*models.Account, error)
	Create(ctx context.Context, acc models.Account) (models.Account, error)
	Update(ctx context.Context, id string, fn database.AccountFunc) (models.Account, error)
	AddXP(ctx context.Context, id string, delta int64) error
	List(ctx context.Context) ([]models.Account, error)
}

// Options tune a Service. Zero values mean defaults.
type Options struct {
	// Опыт за один ответ
	ReviewXP int64
	// Часовой пояс, в котором считаются календарные дни
	Location *time.Location
	// Источник текущего времени, для тестов
	Now func() time.Time
}

// Service is the composition root of the learning domain.
//
// Writes for one learner item are serialized; different items and different
// learners proceed in parallel. The due index of a learner is only touched
// after the store has committed, so it never shows a due time the store
// does not hold.
type Service struct {
	progress ProgressStore
	accounts AccountStore
	srs      *spaced_repetition.Scheduler
	log      *logger.Logger

	reviewXP int64
	loc      *time.Location
	now      func() time.Time

	itemLocks *database.KeyLock

	mu       sync.Mutex
	learners map[string]*learnerState

	pendingMu sync.Mutex
	pending   map[itemKey]*pendingReview
	pendingXP map[string]int64
}

// learnerState guards the due index of one learner. Writers hold mu for
// reading while they commit and update the index; loads and rebuilds take
// it exclusively, so a rebuild never drops a concurrent commit.
type learnerState struct {
	mu     sync.RWMutex
	loaded bool
	index  *dueindex.Index
}

type itemKey struct {
	learnerID string
	itemID    string
}

func (k itemKey) String() string {
	return k.learnerID + "\x00" + k.itemID
}

// pendingReview holds outcomes that could not be stored yet, in submission order.
type pendingReview struct {
	last     *models.ProgressRecord
	outcomes []queuedOutcome
}

type queuedOutcome struct {
	outcome models.Outcome
	at      time.Time
}

// NewService creates a Service
func NewService(progress ProgressStore, accounts AccountStore, srs *spaced_repetition.Scheduler, log *logger.Logger, opts Options) *Service {
	if opts.ReviewXP == 0 {
		opts.ReviewXP = DefaultReviewXP
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Service{
		progress:  progress,
		accounts:  accounts,
		srs:       srs,
		log:       log,
		reviewXP:  opts.ReviewXP,
		loc:       opts.Location,
		now:       opts.Now,
		itemLocks: database.NewKeyLock(),
		learners:  make(map[string]*learnerState),
		pending:   make(map[itemKey]*pendingReview),
		pendingXP: make(map[string]int64),
	}
}

// Today returns the current calendar date in the service time zone
func (s *Service) Today() civil.Date {
	return calendar.Today(s.now(), s.loc)
}

// SubmitReview records one answer for an item and returns the new progress record.
//
// If the record cannot be stored, the computed record is still returned
// together with an error matching both models.ErrProgressNotSaved and
// models.ErrStoreUnavailable. The outcome is queued and written on the
// learner's next action or by FlushPending.
func (s *Service) SubmitReview(ctx context.Context, learnerID, itemID string, outcome models.Outcome) (models.ProgressRecord, error) {
	if !outcome.Valid() {
		return models.ProgressRecord{}, fmt.Errorf("outcome %d: %w", int(outcome), models.ErrInvalidOutcome)
	}
	if learnerID == "" || itemID == "" {
		return models.ProgressRecord{}, errors.New("learner and item ids must not be empty")
	}

	key := itemKey{learnerID: learnerID, itemID: itemID}
	unlock := s.itemLocks.Lock(key.String())
	defer unlock()

	now := s.now()

	// Earlier outcomes that are still queued go first
	if err := s.flushItem(ctx, key); err != nil {
		rec := s.enqueue(key, outcome, now, nil)
		s.creditXP(ctx, learnerID)
		return rec, notSaved(err)
	}

	saved, err := s.commit(ctx, key, func(current *models.ProgressRecord) (models.ProgressRecord, error) {
		return s.srs.Advance(current, outcome, now), nil
	})
	if err != nil {
		if !retryable(err) {
			return saved, err
		}
		var computed *models.ProgressRecord
		if saved.ItemID != "" {
			computed = &saved
		}
		rec := s.enqueue(key, outcome, now, computed)
		s.creditXP(ctx, learnerID)
		s.log.Warn("review queued", "learner", learnerID, "item", itemID, "error", err)
		return rec, notSaved(err)
	}

	s.creditXP(ctx, learnerID)
	s.log.Debug("review stored", "learner", learnerID, "item", itemID, "status", saved.Status, "streak", saved.Streak)
	return saved, nil
}

// commit writes one item and updates the due index once the store accepted it
func (s *Service) commit(ctx context.Context, key itemKey, fn database.UpdateFunc) (models.ProgressRecord, error) {
	st := s.state(key.learnerID)
	st.mu.RLock()
	defer st.mu.RUnlock()

	saved, err := s.progress.Update(ctx, key.learnerID, key.itemID, fn)
	if err != nil {
		return saved, err
	}
	if st.loaded {
		st.index.Upsert(saved)
	}
	return saved, nil
}

// GetDueItems returns up to limit item ids due at or before now, earliest first
func (s *Service) GetDueItems(ctx context.Context, learnerID string, now time.Time, limit int) ([]string, error) {
	s.flushLearner(ctx, learnerID)

	st, err := s.loadedState(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	return st.index.DueBefore(now, limit), nil
}

// CountDue returns how many items of a learner are due at or before now
func (s *Service) CountDue(ctx context.Context, learnerID string, now time.Time) (int, error) {
	st, err := s.loadedState(ctx, learnerID)
	if err != nil {
		return 0, err
	}
	return st.index.CountDue(now), nil
}

// GetProgressSnapshot returns every stored record of a learner ordered by item id
func (s *Service) GetProgressSnapshot(ctx context.Context, learnerID string) ([]models.ProgressRecord, error) {
	s.flushLearner(ctx, learnerID)
	return s.progress.ScanAll(ctx, learnerID)
}

// RecordLogin applies a login on today to an account and returns its
// daily streak and last login date. Repeated calls on the same day are no-ops.
func (s *Service) RecordLogin(ctx context.Context, accountID string, today civil.Date) (int, civil.Date, error) {
	acc, err := s.accounts.Update(ctx, accountID, func(current models.Account) (models.Account, error) {
		return engagement.Login(current, today), nil
	})
	if err != nil {
		return 0, civil.Date{}, fmt.Errorf("record login for %s: %w", accountID, err)
	}

	s.flushLearner(ctx, accountID)
	return acc.DailyStreak, acc.LastLoginDate, nil
}

// RegisterAccount creates an account with a streak of one. An empty id gets a
// generated one. Registering an existing id returns the stored account.
func (s *Service) RegisterAccount(ctx context.Context, accountID string, today civil.Date) (models.Account, error) {
	if accountID == "" {
		accountID = uuid.NewString()
	}

	acc, err := s.accounts.Create(ctx, engagement.NewAccount(accountID, today, s.now()))
	if errors.Is(err, models.ErrAlreadyExists) {
		existing, err := s.accounts.Get(ctx, accountID)
		if err != nil {
			return models.Account{}, err
		}
		return *existing, nil
	}
	if err != nil {
		return models.Account{}, err
	}

	s.log.Info("account registered", "account", accountID)
	return acc, nil
}

// Account returns a stored account
func (s *Service) Account(ctx context.Context, accountID string) (models.Account, error) {
	acc, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}
	return *acc, nil
}

// Accounts lists every registered account
func (s *Service) Accounts(ctx context.Context) ([]models.Account, error) {
	return s.accounts.List(ctx)
}

// RebuildIndex reloads the due index of a learner from the store
func (s *Service) RebuildIndex(ctx context.Context, learnerID string) error {
	st := s.state(learnerID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.load(ctx, learnerID, st)
}

// Reconcile checks every loaded due index against the store and rebuilds
// the ones that disagree. It returns the ids of the rebuilt learners.
func (s *Service) Reconcile(ctx context.Context) ([]string, error) {
	var rebuilt []string
	var errs []error

	for _, learnerID := range s.loadedLearners() {
		st := s.state(learnerID)
		st.mu.Lock()
		records, err := s.progress.ScanAll(ctx, learnerID)
		if err != nil {
			st.mu.Unlock()
			errs = append(errs, err)
			continue
		}
		if err := st.index.Verify(records); err != nil {
			s.log.Warn("due index out of sync, rebuilding", "learner", learnerID, "error", err)
			st.index.Rebuild(records)
			rebuilt = append(rebuilt, learnerID)
		}
		st.mu.Unlock()
	}

	return rebuilt, errors.Join(errs...)
}

// FlushPending writes every queued outcome and experience credit.
// It returns how many item queues are still waiting.
func (s *Service) FlushPending(ctx context.Context) (int, error) {
	var errs []error
	for _, key := range s.pendingKeys() {
		unlock := s.itemLocks.Lock(key.String())
		err := s.flushItem(ctx, key)
		unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}

	s.pendingMu.Lock()
	accounts := make([]string, 0, len(s.pendingXP))
	for id := range s.pendingXP {
		accounts = append(accounts, id)
	}
	s.pendingMu.Unlock()
	for _, id := range accounts {
		s.addXP(ctx, id, 0)
	}

	s.pendingMu.Lock()
	left := len(s.pending)
	s.pendingMu.Unlock()
	return left, errors.Join(errs...)
}

// Pending returns the number of item queues waiting for the store
func (s *Service) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

func (s *Service) state(learnerID string) *learnerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.learners[learnerID]
	if !ok {
		st = &learnerState{index: dueindex.New()}
		s.learners[learnerID] = st
	}
	return st
}

func (s *Service) loadedState(ctx context.Context, learnerID string) (*learnerState, error) {
	st := s.state(learnerID)
	st.mu.RLock()
	loaded := st.loaded
	st.mu.RUnlock()
	if loaded {
		return st, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.loaded {
		return st, nil
	}
	if err := s.load(ctx, learnerID, st); err != nil {
		return nil, err
	}
	return st, nil
}

// load rebuilds st from the store. The caller holds st.mu exclusively.
func (s *Service) load(ctx context.Context, learnerID string, st *learnerState) error {
	records, err := s.progress.ScanAll(ctx, learnerID)
	if err != nil {
		return fmt.Errorf("load due index for %s: %w", learnerID, err)
	}
	st.index.Rebuild(records)
	st.loaded = true
	return nil
}

func (s *Service) loadedLearners() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.learners))
	for id := range s.learners {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	loaded := ids[:0]
	for _, id := range ids {
		st := s.state(id)
		st.mu.RLock()
		if st.loaded {
			loaded = append(loaded, id)
		}
		st.mu.RUnlock()
	}
	sort.Strings(loaded)
	return loaded
}

// enqueue appends an outcome to the queue of an item and returns the best
// known record after it. computed is the record the failed write produced.
func (s *Service) enqueue(key itemKey, outcome models.Outcome, at time.Time, computed *models.ProgressRecord) models.ProgressRecord {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	p, ok := s.pending[key]
	if !ok {
		p = &pendingReview{}
		s.pending[key] = p
	}
	p.outcomes = append(p.outcomes, queuedOutcome{outcome: outcome, at: at})

	switch {
	case computed != nil:
		rec := *computed
		p.last = &rec
	case p.last != nil:
		rec := s.srs.Advance(p.last, outcome, at)
		p.last = &rec
	}

	if p.last == nil {
		return models.ProgressRecord{}
	}
	return *p.last
}

// flushItem writes the queued outcomes of one item in order. The caller
// holds the item lock. Outcomes written before a failure leave the queue.
func (s *Service) flushItem(ctx context.Context, key itemKey) error {
	s.pendingMu.Lock()
	p, ok := s.pending[key]
	var queued []queuedOutcome
	if ok {
		queued = append(queued, p.outcomes...)
	}
	s.pendingMu.Unlock()
	if !ok {
		return nil
	}

	for i, q := range queued {
		_, err := s.commit(ctx, key, func(current *models.ProgressRecord) (models.ProgressRecord, error) {
			return s.srs.Advance(current, q.outcome, q.at), nil
		})
		if err != nil {
			s.pendingMu.Lock()
			p.outcomes = p.outcomes[i:]
			s.pendingMu.Unlock()
			return err
		}
	}

	s.pendingMu.Lock()
	delete(s.pending, key)
	s.pendingMu.Unlock()
	s.log.Info("queued reviews stored", "learner", key.learnerID, "item", key.itemID, "count", len(queued))
	return nil
}

// flushLearner retries the queues of one learner, logging failures
func (s *Service) flushLearner(ctx context.Context, learnerID string) {
	for _, key := range s.pendingKeys() {
		if key.learnerID != learnerID {
			continue
		}
		unlock := s.itemLocks.Lock(key.String())
		err := s.flushItem(ctx, key)
		unlock()
		if err != nil {
			s.log.Warn("queued reviews still not stored", "learner", learnerID, "item", key.itemID, "error", err)
			return
		}
	}
	s.addXP(ctx, learnerID, 0)
}

func (s *Service) pendingKeys() []itemKey {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	keys := make([]itemKey, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

func (s *Service) creditXP(ctx context.Context, learnerID string) {
	s.addXP(ctx, learnerID, s.reviewXP)
}

// addXP credits delta plus whatever is still owed to an account.
// Learners without an account earn nothing.
func (s *Service) addXP(ctx context.Context, accountID string, delta int64) {
	s.pendingMu.Lock()
	owed := s.pendingXP[accountID] + delta
	delete(s.pendingXP, accountID)
	s.pendingMu.Unlock()
	if owed <= 0 {
		return
	}

	err := s.accounts.AddXP(ctx, accountID, owed)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotFound):
		s.log.Debug("no account for experience", "account", accountID)
	default:
		s.log.Warn("experience not credited, will retry", "account", accountID, "xp", owed, "error", err)
		s.pendingMu.Lock()
		s.pendingXP[accountID] += owed
		s.pendingMu.Unlock()
	}
}

func retryable(err error) bool {
	return errors.Is(err, models.ErrStoreUnavailable) || errors.Is(err, models.ErrVersionConflict)
}

// notSaved marks err as a progress write that did not reach the store
func notSaved(err error) error {
	if errors.Is(err, models.ErrStoreUnavailable) {
		return fmt.Errorf("%w: %w", models.ErrProgressNotSaved, err)
	}
	return fmt.Errorf("%w: %w: %w", models.ErrProgressNotSaved, models.ErrStoreUnavailable, err)
}
