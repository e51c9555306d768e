package review

import (
	"strings"

	"github.com/rotisserie/eris"
)

// transition applies a status change to it in place. Approval requires
// non-blank text; leaving approved is only allowed as a re-approval edit.
//
//	pending            -> approved | needs_regeneration
//	needs_regeneration -> approved | needs_regeneration
//	approved           -> approved
func transition(it *Item, to Status, approvedText *string) error {
	switch to {
	case StatusApproved:
		switch it.Status {
		case StatusPending, StatusNeedsRegeneration, StatusApproved:
		default:
			return eris.Wrapf(ErrInvalidTransition, "%s -> %s", it.Status, to)
		}
		if approvedText == nil || strings.TrimSpace(*approvedText) == "" {
			return ErrApprovedTextRequired
		}
		text := *approvedText
		it.Status = StatusApproved
		it.ApprovedText = &text
		return nil

	case StatusNeedsRegeneration:
		switch it.Status {
		case StatusPending, StatusNeedsRegeneration:
		default:
			return eris.Wrapf(ErrInvalidTransition, "%s -> %s", it.Status, to)
		}
		it.Status = StatusNeedsRegeneration
		it.ApprovedText = nil
		return nil
	}

	return eris.Wrapf(ErrInvalidTransition, "%s -> %s", it.Status, to)
}
