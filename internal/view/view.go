// Package view flattens a canonical offer and its optional counter-offer
// draft into a single display record. The overlay rule is last-writer-wins
// per field: a draft value takes precedence only when it is present.
package view

import (
	"axees/internal/domain"
	"axees/internal/status"
)

// Resolve applies the overlay precedence rule for one field: the draft value
// wins when present, otherwise the canonical value (which may itself be nil).
func Resolve[T any](draft, offer *T) *T {
	if draft != nil {
		return draft
	}
	return offer
}

// Detail is the flattened display record. Nil fields render as placeholders;
// consumers must not assume any field is set.
type Detail struct {
	Amount      *float64 `json:"amount,omitempty"`
	Description *string  `json:"description,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
	ReviewDate  *string  `json:"review_date,omitempty" format:"date-time"`
	PostDate    *string  `json:"post_date,omitempty" format:"date-time"`
	Status      *string  `json:"status,omitempty"`
}

// Merge builds a Detail from a canonical offer and an optional draft. Inputs
// are never mutated. Both inputs may be nil; the result is then entirely
// unset. Notes backs only the notes field; description always falls back to
// the canonical offer.
func Merge(offer *domain.Offer, draft *domain.Draft) Detail {
	var d Detail
	var baseAmount *float64
	var baseDesc, baseNotes, baseReview, basePost, baseStatus *string
	if offer != nil {
		if offer.ProposedAmount != 0 {
			baseAmount = &offer.ProposedAmount
		}
		baseDesc = optional(offer.Description)
		baseNotes = optional(offer.Notes)
		baseReview = optional(offer.DesiredReviewDate)
		basePost = optional(offer.DesiredPostDate)
		baseStatus = optional(offer.Status)
	}
	if draft == nil {
		d.Amount = baseAmount
		d.Description = baseDesc
		d.Notes = baseNotes
		d.ReviewDate = baseReview
		d.PostDate = basePost
		d.Status = baseStatus
		return d
	}
	d.Amount = Resolve(draft.Amount, baseAmount)
	d.Description = baseDesc
	d.Notes = Resolve(draft.Notes, baseNotes)
	d.ReviewDate = Resolve(draft.ReviewDate, baseReview)
	d.PostDate = Resolve(draft.PostDate, basePost)
	d.Status = Resolve(optional(draft.Status), baseStatus)
	return d
}

// Label computes the role-framed display label for the merged record.
func Label(offer *domain.Offer, draft *domain.Draft, role status.Role) string {
	d := Merge(offer, draft)
	s := ""
	if d.Status != nil {
		s = *d.Status
	}
	return status.Label(s, role, offer != nil && offer.Draft)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
