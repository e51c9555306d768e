package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexreview/lexreview/internal/bias"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func strPtr(s string) *string { return &s }

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore(time.Hour, time.Minute), opts...)
}

// assertItemInvariant checks approved_text is set exactly when approved.
func assertItemInvariant(t *testing.T, s *Session) {
	t.Helper()
	for _, it := range s.Items {
		if it.Status == StatusApproved {
			assert.NotNil(t, it.ApprovedText, "approved item %s must carry approved_text", it.ID)
		} else {
			assert.Nil(t, it.ApprovedText, "%s item %s must not carry approved_text", it.Status, it.ID)
		}
	}
}

func assertReadyMatchesStats(t *testing.T, m *Manager, id string) {
	t.Helper()
	ctx := context.Background()
	st, err := m.Stats(ctx, id)
	require.NoError(t, err)
	ready, err := m.IsReadyForFinalization(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, st.Pending == 0 && st.NeedsRegeneration == 0, ready)
}

// scenarioSession is item1 neutral, item2 biased with a suggestion, item3
// biased without one.
func scenarioSession(t *testing.T, m *Manager) *Session {
	t.Helper()
	s, err := m.CreateSession(context.Background(), "notice.txt", "text/plain", []NewItem{
		{Text: "The office opens at nine.", Confidence: 0.9},
		{Text: "The chairman shall sign.", IsBiased: true, Category: "gender", Confidence: 0.92, Suggestion: strPtr("The chairperson shall sign.")},
		{Text: "Only men may apply.", IsBiased: true, Category: "gender", Confidence: 0.88},
	}, []byte("The office opens at nine. The chairman shall sign. Only men may apply."))
	require.NoError(t, err)
	return s
}

type stubSuggester struct {
	mu    sync.Mutex
	reply string
	err   error
	seen  []string
}

func (s *stubSuggester) Suggest(_ context.Context, sentence string, _ bias.Category) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, sentence)
	return s.reply, s.err
}

func TestCreateSession(t *testing.T) {
	m := newTestManager(t)
	s := scenarioSession(t, m)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, SessionInReview, s.Status)
	require.Len(t, s.Items, 3)
	assert.Equal(t, StatusApproved, s.Items[0].Status)
	assert.Equal(t, "The office opens at nine.", *s.Items[0].ApprovedText)
	assert.Nil(t, s.Items[0].Category)
	assert.Equal(t, StatusPending, s.Items[1].Status)
	assert.Equal(t, "gender", *s.Items[1].Category)
	assert.Equal(t, StatusPending, s.Items[2].Status)
	assert.Nil(t, s.Items[2].Suggestion)

	ids := map[string]bool{}
	for _, it := range s.Items {
		ids[it.ID] = true
	}
	assert.Len(t, ids, 3, "item ids must be unique")
	assertItemInvariant(t, s)
}

func TestGetSessionReturnsCopy(t *testing.T) {
	m := newTestManager(t)
	s := scenarioSession(t, m)

	got, err := m.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	got.Items[1].Status = StatusApproved
	got.RawSource[0] = 'X'

	again, err := m.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Items[1].Status)
	assert.Equal(t, byte('T'), again.RawSource[0])

	_, err = m.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestScenarios(t *testing.T) {
	ctx := context.Background()
	sugg := &stubSuggester{reply: "Any eligible person may apply."}
	m := newTestManager(t, WithSuggester(sugg))
	s := scenarioSession(t, m)
	item2, item3 := s.Items[1].ID, s.Items[2].ID

	// A: initial counts.
	st, err := m.Stats(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Pending: 2, Approved: 1}, st)
	assertReadyMatchesStats(t, m, s.ID)

	// B: approve item2.
	_, err = m.UpdateItemStatus(ctx, s.ID, item2, StatusApproved, strPtr("X"))
	require.NoError(t, err)
	st, _ = m.Stats(ctx, s.ID)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 2, st.Approved)
	ready, _ := m.IsReadyForFinalization(ctx, s.ID)
	assert.False(t, ready)

	// D: finalize before everything is approved.
	_, err = m.Finalize(ctx, s.ID)
	var nr *NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.ErrorIs(t, err, ErrSessionNotReady)
	assert.Equal(t, st, nr.Stats)

	// C: reject, regenerate, approve item3.
	it, err := m.UpdateItemStatus(ctx, s.ID, item3, StatusNeedsRegeneration, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsRegeneration, it.Status)

	suggestion, err := m.RegenerateSuggestion(ctx, s.ID, item3)
	require.NoError(t, err)
	assert.Equal(t, "Any eligible person may apply.", suggestion)
	assert.Equal(t, []string{"Only men may apply."}, sugg.seen)

	got, _ := m.GetSession(ctx, s.ID)
	assert.Equal(t, StatusNeedsRegeneration, got.Items[2].Status)
	assert.Equal(t, "Any eligible person may apply.", *got.Items[2].Suggestion)
	assertItemInvariant(t, got)

	_, err = m.UpdateItemStatus(ctx, s.ID, item3, StatusApproved, strPtr(suggestion))
	require.NoError(t, err)
	st, _ = m.Stats(ctx, s.ID)
	assert.Equal(t, Stats{Total: 3, Approved: 3}, st)
	ready, _ = m.IsReadyForFinalization(ctx, s.ID)
	assert.True(t, ready)
	assertReadyMatchesStats(t, m, s.ID)
}

func TestUpdateItemStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		text    *string
		wantErr error
	}{
		{"pending to approved", StatusPending, StatusApproved, strPtr("ok"), nil},
		{"pending to approved without text", StatusPending, StatusApproved, nil, ErrApprovedTextRequired},
		{"pending to approved blank text", StatusPending, StatusApproved, strPtr("  "), ErrApprovedTextRequired},
		{"pending to needs_regeneration", StatusPending, StatusNeedsRegeneration, nil, nil},
		{"needs_regeneration to approved", StatusNeedsRegeneration, StatusApproved, strPtr("ok"), nil},
		{"needs_regeneration to itself", StatusNeedsRegeneration, StatusNeedsRegeneration, nil, nil},
		{"approved edit", StatusApproved, StatusApproved, strPtr("edited"), nil},
		{"approved to needs_regeneration", StatusApproved, StatusNeedsRegeneration, nil, ErrInvalidTransition},
		{"to pending", StatusPending, StatusPending, nil, ErrInvalidTransition},
		{"unknown status", StatusPending, Status("archived"), nil, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := newTestManager(t)
			s := scenarioSession(t, m)
			id := s.Items[1].ID

			switch tt.from {
			case StatusApproved:
				_, err := m.UpdateItemStatus(ctx, s.ID, id, StatusApproved, strPtr("first"))
				require.NoError(t, err)
			case StatusNeedsRegeneration:
				_, err := m.UpdateItemStatus(ctx, s.ID, id, StatusNeedsRegeneration, nil)
				require.NoError(t, err)
			}

			before, _ := m.GetSession(ctx, s.ID)
			it, err := m.UpdateItemStatus(ctx, s.ID, id, tt.to, tt.text)
			after, _ := m.GetSession(ctx, s.ID)
			assertItemInvariant(t, after)
			assertReadyMatchesStats(t, m, s.ID)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before.Items, after.Items, "failed transition must not change state")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, it.Status)
			if tt.text != nil {
				assert.Equal(t, *tt.text, *it.ApprovedText)
			}
		})
	}
}

func TestUpdateNotFound(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	s := scenarioSession(t, m)

	_, err := m.UpdateItemStatus(ctx, "nope", s.Items[1].ID, StatusApproved, strPtr("x"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.UpdateItemStatus(ctx, s.ID, "nope", StatusApproved, strPtr("x"))
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = m.UpdateItemSuggestion(ctx, s.ID, "nope", "x")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestUpdateItemSuggestionKeepsStatus(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	s := scenarioSession(t, m)

	it, err := m.UpdateItemSuggestion(ctx, s.ID, s.Items[2].ID, "Applicants may apply.")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, it.Status)
	assert.Equal(t, "Applicants may apply.", *it.Suggestion)
	assert.Nil(t, it.ApprovedText)
}

func TestMarkCompletedIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	s := scenarioSession(t, m)

	require.NoError(t, m.MarkCompleted(ctx, s.ID))
	first, _ := m.GetSession(ctx, s.ID)
	require.NoError(t, m.MarkCompleted(ctx, s.ID))
	second, _ := m.GetSession(ctx, s.ID)

	assert.Equal(t, SessionCompleted, second.Status)
	assert.Equal(t, first, second)

	_, err := m.UpdateItemStatus(ctx, s.ID, s.Items[1].ID, StatusApproved, strPtr("x"))
	assert.ErrorIs(t, err, ErrSessionCompleted)
	_, err = m.UpdateItemSuggestion(ctx, s.ID, s.Items[1].ID, "x")
	assert.ErrorIs(t, err, ErrSessionCompleted)

	assert.ErrorIs(t, m.MarkCompleted(ctx, "missing"), ErrSessionNotFound)
}

func TestRegenerateSuggestionErrors(t *testing.T) {
	ctx := context.Background()

	m := newTestManager(t)
	s := scenarioSession(t, m)
	_, err := m.RegenerateSuggestion(ctx, s.ID, s.Items[2].ID)
	assert.ErrorIs(t, err, bias.ErrGeneration, "no suggester configured")

	m = newTestManager(t, WithSuggester(&stubSuggester{err: errors.New("llm down")}))
	s = scenarioSession(t, m)
	_, err = m.RegenerateSuggestion(ctx, s.ID, s.Items[2].ID)
	assert.ErrorIs(t, err, bias.ErrGeneration)
	got, _ := m.GetSession(ctx, s.ID)
	assert.Nil(t, got.Items[2].Suggestion)

	_, err = m.RegenerateSuggestion(ctx, s.ID, "nope")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	s := scenarioSession(t, m)

	_, err := m.UpdateItemStatus(ctx, s.ID, s.Items[1].ID, StatusApproved, strPtr("The chairperson shall sign."))
	require.NoError(t, err)
	_, err = m.UpdateItemStatus(ctx, s.ID, s.Items[2].ID, StatusApproved, strPtr("Any eligible person may apply."))
	require.NoError(t, err)

	res, err := m.Finalize(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "The office opens at nine. The chairperson shall sign. Any eligible person may apply.", string(res.Data))
	assert.Equal(t, 2, res.Changes)
	assert.Equal(t, "debiased_notice.txt", res.Filename)
	assert.False(t, res.Rebuilt)

	got, _ := m.GetSession(ctx, s.ID)
	assert.Equal(t, SessionCompleted, got.Status)

	again, err := m.Finalize(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Data, again.Data)
}

func TestFinalizeFallsBackToRebuild(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	s, err := m.CreateSession(ctx, "scan.pdf", "application/pdf", []NewItem{
		{Text: "Neutral."},
		{Text: "He signs.", IsBiased: true, Category: "gender"},
	}, []byte("%PDF-1.4"))
	require.NoError(t, err)
	_, err = m.UpdateItemStatus(ctx, s.ID, s.Items[1].ID, StatusApproved, strPtr("They sign."))
	require.NoError(t, err)

	res, err := m.Finalize(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, res.Rebuilt)
	assert.Equal(t, "Neutral.\nThey sign.", string(res.Data))
	assert.Equal(t, "debiased_scan.txt", res.Filename)
	assert.Equal(t, 1, res.Changes)
}

func TestConcurrentApprovalsSerialize(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	items := make([]NewItem, 20)
	for i := range items {
		items[i] = NewItem{Text: "Biased sentence.", IsBiased: true, Category: "age"}
	}
	s, err := m.CreateSession(ctx, "doc.txt", "text/plain", items, []byte("x"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, it := range s.Items {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.UpdateItemStatus(ctx, s.ID, it.ID, StatusApproved, strPtr("Neutral sentence."))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := m.UpdateItemStatus(ctx, s.ID, it.ID, StatusApproved, strPtr("Neutral sentence."))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := m.Stats(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 20, Approved: 20}, st, "no approval may be lost")
	assert.Zero(t, m.locks.size())
}

func TestActiveCountAndExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(50*time.Millisecond, 10*time.Millisecond))
	s := scenarioSession(t, m)
	assert.Equal(t, 1, m.ActiveCount(ctx))

	assert.Eventually(t, func() bool {
		_, err := m.GetSession(ctx, s.ID)
		return errors.Is(err, ErrSessionNotFound)
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, m.ActiveCount(ctx))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestManagerPublishesEvents(t *testing.T) {
	ctx := context.Background()
	rec := &recordingPublisher{}
	m := newTestManager(t, WithPublisher(rec))
	s := scenarioSession(t, m)

	_, err := m.UpdateItemStatus(ctx, s.ID, s.Items[1].ID, StatusApproved, strPtr("x"))
	require.NoError(t, err)
	_, err = m.UpdateItemStatus(ctx, s.ID, s.Items[1].ID, StatusNeedsRegeneration, nil)
	require.Error(t, err)
	require.NoError(t, m.MarkCompleted(ctx, s.ID))

	require.Len(t, rec.events, 3, "failed transitions publish nothing")
	assert.Equal(t, EventSessionCreated, rec.events[0].Type)
	assert.Equal(t, EventItemUpdated, rec.events[1].Type)
	assert.Equal(t, s.Items[1].ID, rec.events[1].ItemID)
	assert.Equal(t, StatusApproved, rec.events[1].Status)
	assert.Equal(t, 2, rec.events[1].Stats.Approved)
	assert.Equal(t, EventSessionCompleted, rec.events[2].Type)
}

// gatedPublisher blocks on events for one item until released.
type gatedPublisher struct {
	itemID  string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPublisher) Publish(ev Event) {
	if ev.ItemID != g.itemID {
		return
	}
	close(g.entered)
	<-g.release
}

func TestSlowPublisherDoesNotHoldSessionLock(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	s := scenarioSession(t, m)

	gate := &gatedPublisher{
		itemID:  s.Items[1].ID,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m.publishers = append(m.publishers, gate)

	first := make(chan error, 1)
	go func() {
		_, err := m.UpdateItemStatus(ctx, s.ID, s.Items[1].ID, StatusApproved, strPtr("The chairperson shall sign."))
		first <- err
	}()
	<-gate.entered

	second := make(chan error, 1)
	go func() {
		_, err := m.UpdateItemStatus(ctx, s.ID, s.Items[2].ID, StatusNeedsRegeneration, nil)
		second <- err
	}()
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("update of another item waited for a blocked publisher")
	}

	close(gate.release)
	require.NoError(t, <-first)
}

// lockingStore records cross-process lock use around a MemoryStore.
type lockingStore struct {
	*MemoryStore
	mu       sync.Mutex
	held     map[string]bool
	acquired int
	err      error
}

func (l *lockingStore) LockSession(_ context.Context, id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held[id] {
		return nil, errors.New("lock already held")
	}
	l.held[id] = true
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, id)
	}, nil
}

func TestManagerTakesStoreLock(t *testing.T) {
	ctx := context.Background()
	store := &lockingStore{MemoryStore: NewMemoryStore(time.Hour, time.Minute), held: map[string]bool{}}
	m := NewManager(store)
	s := scenarioSession(t, m)

	_, err := m.UpdateItemStatus(ctx, s.ID, s.Items[1].ID, StatusApproved, strPtr("The chairperson shall sign."))
	require.NoError(t, err)
	_, err = m.UpdateItemStatus(ctx, s.ID, s.Items[2].ID, StatusApproved, strPtr("Any person may apply."))
	require.NoError(t, err)
	_, err = m.Finalize(ctx, s.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, store.acquired)
	assert.Empty(t, store.held, "every lock must be released")

	store.err = errors.New("redis unavailable")
	err = m.MarkCompleted(ctx, s.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unavailable")
	assert.Zero(t, m.locks.size(), "in-process lock must be released when the store lock fails")
}
