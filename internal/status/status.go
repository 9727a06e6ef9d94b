// Package status maps the canonical, role-agnostic offer status enum to
// role-specific display labels and the set of negotiation actions a viewer
// may take. Everything here is pure.
package status

// Role identifies which side of a negotiation the viewer is on.
type Role string

const (
	RoleMarketer Role = "Marketer"
	RoleCreator  Role = "Creator"
)

// ParseRole maps a user_type string to a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case string(RoleMarketer):
		return RoleMarketer, true
	case string(RoleCreator):
		return RoleCreator, true
	}
	return "", false
}

// Canonical statuses as assigned by the negotiation engine. OfferReceived is
// a legacy alias for Sent that still appears in stored data.
const (
	Sent             = "Sent"
	OfferReceived    = "Offer Received"
	InReview         = "Offer in Review"
	ViewedByCreator  = "Viewed by Creator"
	ViewedByMarketer = "Viewed by Marketer"
	Countered        = "Rejected-Countered"
	Rejected         = "Rejected"
	Accepted         = "Accepted"
	Cancelled        = "Cancelled"
)

// IsTerminal reports whether no further negotiation actions are permitted.
func IsTerminal(s string) bool {
	switch s {
	case Accepted, Rejected, Cancelled:
		return true
	}
	return false
}

// Label returns the display label for a status as seen by role. A pending
// draft overrides everything; unknown statuses and roles fall back to the
// raw canonical string so future enum values degrade instead of breaking.
func Label(s string, role Role, draft bool) string {
	if draft {
		return "Draft"
	}
	switch role {
	case RoleMarketer:
		return marketerLabel(s)
	case RoleCreator:
		return creatorLabel(s)
	}
	return s
}

func marketerLabel(s string) string {
	switch s {
	case Sent, OfferReceived:
		return "Offer Sent"
	case InReview:
		return "Offer in Review"
	case ViewedByCreator:
		return "Viewed by Creator"
	// The marketer sees their own pending review as still-in-review rather
	// than the raw enum value.
	case ViewedByMarketer:
		return "Offer in Review"
	case Countered:
		return "Counter Offered"
	case Rejected:
		return "Rejected by Creator"
	case Accepted:
		return "Accepted by Creator"
	case Cancelled:
		return "Cancelled"
	}
	return s
}

func creatorLabel(s string) string {
	switch s {
	case Sent, OfferReceived:
		return "Offer Received"
	case InReview, ViewedByMarketer:
		return "Viewed by Marketer"
	case ViewedByCreator:
		return "Offer in Review"
	case Countered:
		return "Counter Offered"
	case Rejected:
		return "Rejected"
	case Accepted:
		return "Accepted"
	case Cancelled:
		return "Cancelled"
	}
	return s
}

// Action is a negotiation action a viewer may take on an offer.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionCounter Action = "counter"
	ActionDelete  Action = "delete"
)

// AvailableActions returns the action row for a viewer. Terminal statuses
// remove the row entirely. A marketer who owns an uncountered Sent offer may
// only delete it; once the creator has countered, the marketer negotiates.
// Creators may act on any live offer addressed to them.
func AvailableActions(s string, role Role, isOwner, countered bool) []Action {
	if IsTerminal(s) {
		return nil
	}
	switch role {
	case RoleMarketer:
		if countered || s == Countered {
			return []Action{ActionAccept, ActionCounter, ActionReject}
		}
		if isOwner && (s == Sent || s == OfferReceived) {
			return []Action{ActionDelete}
		}
		return nil
	case RoleCreator:
		return []Action{ActionAccept, ActionCounter, ActionReject}
	}
	return nil
}
