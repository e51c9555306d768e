package review

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/bias"
	"github.com/lexreview/lexreview/internal/regen"
)

// NewItem is the classifier output for one sentence, used to seed a session.
type NewItem struct {
	Text       string
	IsBiased   bool
	Category   string
	Confidence float64
	Suggestion *string
}

// Manager owns every session and is the only component that mutates one.
// Read-modify-write cycles on a session are serialized by a per-session
// lock; slow calls (suggestion generation) run outside it.
type Manager struct {
	store      SessionStore
	locks      *keyedMutex
	suggester  bias.Suggester
	publishers []Publisher
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithSuggester sets the generator used by RegenerateSuggestion.
func WithSuggester(s bias.Suggester) Option {
	return func(m *Manager) { m.suggester = s }
}

// WithPublisher adds a receiver for session events.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publishers = append(m.publishers, p) }
}

// NewManager creates a manager over store.
func NewManager(store SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateSession stores a new in-review session. Neutral items start
// approved with their original text; biased items start pending.
func (m *Manager) CreateSession(ctx context.Context, filename, contentType string, items []NewItem, raw []byte) (*Session, error) {
	now := m.now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		SourceFilename: filename,
		ContentType:    contentType,
		RawSource:      append([]byte(nil), raw...),
		Items:          make([]Item, len(items)),
		Status:         SessionInReview,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, ni := range items {
		it := Item{
			ID:           uuid.NewString(),
			OriginalText: ni.Text,
			IsBiased:     ni.IsBiased,
			Confidence:   ni.Confidence,
			Suggestion:   cloneString(ni.Suggestion),
		}
		if ni.IsBiased {
			cat := ni.Category
			if cat == "" {
				cat = string(bias.CategoryOther)
			}
			it.Category = &cat
			it.Status = StatusPending
		} else {
			text := ni.Text
			it.ApprovedText = &text
			it.Status = StatusApproved
		}
		s.Items[i] = it
	}

	if err := m.store.Put(ctx, s); err != nil {
		return nil, eris.Wrap(err, "storing new session")
	}
	m.emit(m.event(EventSessionCreated, s, "", ""))
	return s.clone(), nil
}

// GetSession returns a copy of the session.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// UpdateItemStatus moves an item to a new status. approvedText is required
// when approving and ignored otherwise.
func (m *Manager) UpdateItemStatus(ctx context.Context, sessionID, itemID string, to Status, approvedText *string) (*Item, error) {
	var updated Item
	err := m.mutate(ctx, sessionID, func(s *Session) error {
		it, err := s.item(itemID)
		if err != nil {
			return err
		}
		if err := transition(it, to, approvedText); err != nil {
			return err
		}
		updated = it.clone()
		return nil
	}, EventItemUpdated, itemID)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// UpdateItemSuggestion overwrites an item's suggestion without changing its
// status.
func (m *Manager) UpdateItemSuggestion(ctx context.Context, sessionID, itemID, suggestion string) (*Item, error) {
	var updated Item
	err := m.mutate(ctx, sessionID, func(s *Session) error {
		it, err := s.item(itemID)
		if err != nil {
			return err
		}
		text := suggestion
		it.Suggestion = &text
		updated = it.clone()
		return nil
	}, EventSuggestionUpdated, itemID)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Stats returns item counts by status.
func (m *Manager) Stats(ctx context.Context, id string) (Stats, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Stats{}, err
	}
	return s.Stats(), nil
}

// IsReadyForFinalization reports whether every item is approved.
func (m *Manager) IsReadyForFinalization(ctx context.Context, id string) (bool, error) {
	st, err := m.Stats(ctx, id)
	if err != nil {
		return false, err
	}
	return st.Ready(), nil
}

// MarkCompleted moves the session to completed. Completing an already
// completed session is a no-op.
func (m *Manager) MarkCompleted(ctx context.Context, id string) error {
	unlock, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	ev, err := m.markCompletedLocked(ctx, id)
	unlock()

	m.emit(ev)
	return err
}

func (m *Manager) markCompletedLocked(ctx context.Context, id string) (*Event, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.complete(ctx, s)
}

// complete stores s as completed and returns the event to emit once the
// session lock is released. It returns a nil event when s was already
// completed.
func (m *Manager) complete(ctx context.Context, s *Session) (*Event, error) {
	if s.Status == SessionCompleted {
		return nil, nil
	}
	s.Status = SessionCompleted
	s.UpdatedAt = m.now().UTC()
	if err := m.store.Put(ctx, s); err != nil {
		return nil, eris.Wrapf(err, "storing session %s", s.ID)
	}
	return m.event(EventSessionCompleted, s, "", ""), nil
}

// ActiveCount returns the number of live sessions. Store errors count as
// zero so health checks never fail on them.
func (m *Manager) ActiveCount(ctx context.Context) int {
	n, err := m.store.Count(ctx)
	if err != nil {
		zap.L().Warn("review: counting sessions", zap.Error(err))
		return 0
	}
	return n
}

// RegenerateSuggestion asks the suggester for a fresh rewrite of an item and
// stores it. The session lock is not held while the suggester runs.
func (m *Manager) RegenerateSuggestion(ctx context.Context, sessionID, itemID string) (string, error) {
	if m.suggester == nil {
		return "", eris.Wrap(bias.ErrGeneration, "no suggester configured")
	}

	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if s.Status == SessionCompleted {
		return "", eris.Wrapf(ErrSessionCompleted, "session %s", sessionID)
	}
	it, err := s.item(itemID)
	if err != nil {
		return "", err
	}
	category := bias.CategoryOther
	if it.Category != nil {
		category = bias.ParseCategory(*it.Category)
	}

	suggestion, err := m.suggester.Suggest(ctx, it.OriginalText, category)
	if err != nil {
		if !errors.Is(err, bias.ErrGeneration) {
			err = eris.Wrapf(bias.ErrGeneration, "%v", err)
		}
		return "", err
	}

	if _, err := m.UpdateItemSuggestion(ctx, sessionID, itemID, suggestion); err != nil {
		return "", err
	}
	return suggestion, nil
}

// FinalizeResult is the artifact produced for a completed session.
type FinalizeResult struct {
	Filename    string
	ContentType string
	Data        []byte
	Changes     int
	// Rebuilt is set when in-place regeneration failed and the artifact was
	// synthesized from the items.
	Rebuilt bool
}

// Finalize regenerates the document from approved items and marks the
// session completed. It returns a *NotReadyError while items are
// outstanding. Finalizing a completed session regenerates the same
// artifact again.
func (m *Manager) Finalize(ctx context.Context, sessionID string) (*FinalizeResult, error) {
	unlock, err := m.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out, ev, err := m.finalizeLocked(ctx, sessionID)
	unlock()

	m.emit(ev)
	if err != nil {
		return nil, err
	}
	zap.L().Info("review: session finalized",
		zap.String("session_id", sessionID),
		zap.Int("changes", out.Changes),
		zap.Bool("rebuilt", out.Rebuilt))
	return out, nil
}

func (m *Manager) finalizeLocked(ctx context.Context, sessionID string) (*FinalizeResult, *Event, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if st := s.Stats(); !st.Ready() {
		return nil, nil, &NotReadyError{Stats: st}
	}

	edits := make([]regen.Edit, len(s.Items))
	for i, it := range s.Items {
		e := regen.Edit{
			Original: it.OriginalText,
			Biased:   it.IsBiased,
			Approved: it.Status == StatusApproved,
		}
		if it.ApprovedText != nil {
			e.Replacement = *it.ApprovedText
		}
		edits[i] = e
	}

	out := &FinalizeResult{Filename: "debiased_" + s.SourceFilename}
	res, err := regen.Regenerate(s.ContentType, s.RawSource, edits)
	if err != nil {
		zap.L().Warn("review: in-place regeneration failed, rebuilding from items",
			zap.String("session_id", sessionID), zap.Error(err))
		res = regen.RebuildFromItems(edits)
		out.Rebuilt = true
		out.Filename = strings.TrimSuffix(out.Filename, filepath.Ext(out.Filename)) + ".txt"
	}
	out.Data = res.Data
	out.ContentType = res.ContentType
	out.Changes = res.Changes

	ev, err := m.complete(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	return out, ev, nil
}

// mutate runs fn on the stored session under its lock and writes it back.
// Completed sessions reject every mutation. Publishers are called after the
// lock is released.
func (m *Manager) mutate(ctx context.Context, sessionID string, fn func(*Session) error, t EventType, itemID string) error {
	unlock, err := m.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	ev, err := m.mutateLocked(ctx, sessionID, fn, t, itemID)
	unlock()

	m.emit(ev)
	return err
}

func (m *Manager) mutateLocked(ctx context.Context, sessionID string, fn func(*Session) error, t EventType, itemID string) (*Event, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == SessionCompleted {
		return nil, eris.Wrapf(ErrSessionCompleted, "session %s", sessionID)
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = m.now().UTC()
	if err := m.store.Put(ctx, s); err != nil {
		return nil, eris.Wrapf(err, "storing session %s", sessionID)
	}

	var status Status
	if it, err := s.item(itemID); err == nil {
		status = it.Status
	}
	return m.event(t, s, itemID, status), nil
}

// lock takes the in-process lock for id and, when the store is shared
// between processes, the store's lock as well.
func (m *Manager) lock(ctx context.Context, id string) (func(), error) {
	unlock := m.locks.Lock(id)
	sl, ok := m.store.(SessionLocker)
	if !ok {
		return unlock, nil
	}
	release, err := sl.LockSession(ctx, id)
	if err != nil {
		unlock()
		return nil, eris.Wrapf(err, "locking session %s", id)
	}
	return func() {
		release()
		unlock()
	}, nil
}

// event snapshots s for publishing.
func (m *Manager) event(t EventType, s *Session, itemID string, status Status) *Event {
	return &Event{
		Type:      t,
		SessionID: s.ID,
		ItemID:    itemID,
		Status:    status,
		Stats:     s.Stats(),
		Timestamp: m.now().UTC(),
	}
}

// emit hands ev to every publisher. It must not be called with a session
// lock held. A nil ev is ignored.
func (m *Manager) emit(ev *Event) {
	if ev == nil {
		return
	}
	for _, p := range m.publishers {
		p.Publish(*ev)
	}
}
