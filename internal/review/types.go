// Package review implements human-in-the-loop bias review sessions: the
// per-item approval state machine, session storage, ingestion and the HTTP
// surface that drives it.
package review

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Status is the review state of one item.
type Status string

const (
	StatusPending           Status = "pending"
	StatusApproved          Status = "approved"
	StatusNeedsRegeneration Status = "needs_regeneration"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionInReview  SessionStatus = "in_review"
	SessionCompleted SessionStatus = "completed"
)

var (
	ErrSessionNotFound      = eris.New("session not found")
	ErrItemNotFound         = eris.New("item not found in session")
	ErrInvalidTransition    = eris.New("invalid status transition")
	ErrApprovedTextRequired = eris.New("approved_text is required to approve an item")
	ErrSessionCompleted     = eris.New("session is already completed")
	ErrSessionNotReady      = eris.New("session is not ready for finalization")
	ErrEmptyDocument        = eris.New("document contains no sentences")
	ErrClassificationFailed = eris.New("classification failed for every sentence")
)

// Item is one sentence under review.
type Item struct {
	ID           string  `json:"id"`
	OriginalText string  `json:"original_text"`
	IsBiased     bool    `json:"is_biased"`
	Category     *string `json:"category"`
	Confidence   float64 `json:"confidence"`
	Suggestion   *string `json:"suggestion"`
	ApprovedText *string `json:"approved_text"`
	Status       Status  `json:"status"`
}

// Session is the review lifecycle of one uploaded document. Items keep
// document order and are never added or removed after creation.
type Session struct {
	ID             string        `json:"session_id"`
	SourceFilename string        `json:"source_filename"`
	ContentType    string        `json:"content_type"`
	RawSource      []byte        `json:"raw_source"`
	Items          []Item        `json:"items"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Stats aggregates item statuses of a session.
type Stats struct {
	Total             int `json:"total"`
	Pending           int `json:"pending"`
	Approved          int `json:"approved"`
	NeedsRegeneration int `json:"needs_regeneration"`
}

// Ready reports whether no item is pending or awaiting regeneration.
func (s Stats) Ready() bool {
	return s.Pending == 0 && s.NeedsRegeneration == 0
}

// Stats counts items by status.
func (s *Session) Stats() Stats {
	st := Stats{Total: len(s.Items)}
	for _, it := range s.Items {
		switch it.Status {
		case StatusPending:
			st.Pending++
		case StatusApproved:
			st.Approved++
		case StatusNeedsRegeneration:
			st.NeedsRegeneration++
		}
	}
	return st
}

func (s *Session) item(id string) (*Item, error) {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return &s.Items[i], nil
		}
	}
	return nil, eris.Wrapf(ErrItemNotFound, "item %s", id)
}

// clone returns a deep copy so stored sessions never alias caller memory.
func (s *Session) clone() *Session {
	c := *s
	c.RawSource = append([]byte(nil), s.RawSource...)
	c.Items = make([]Item, len(s.Items))
	for i, it := range s.Items {
		c.Items[i] = it.clone()
	}
	return &c
}

func (it Item) clone() Item {
	it.Category = cloneString(it.Category)
	it.Suggestion = cloneString(it.Suggestion)
	it.ApprovedText = cloneString(it.ApprovedText)
	return it
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NotReadyError reports the outstanding counts that block finalization.
type NotReadyError struct {
	Stats Stats
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("not all sentences have been reviewed: pending %d, needs regeneration %d",
		e.Stats.Pending, e.Stats.NeedsRegeneration)
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrSessionNotReady
}
