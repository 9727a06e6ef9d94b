package server

import (
	"encoding/json"

	"axees/internal/domain"
	"axees/internal/engine"
	"axees/internal/status"
)

// Request payloads

type AttachmentRequest struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
}

type CreateOfferRequest struct {
	ID                *string             `json:"id,omitempty"`
	OfferName         string              `json:"offer_name"`
	ProposedAmount    float64             `json:"proposed_amount"`
	Description       *string             `json:"description,omitempty"`
	DesiredReviewDate *string             `json:"desired_review_date,omitempty" format:"date-time"`
	DesiredPostDate   *string             `json:"desired_post_date,omitempty" format:"date-time"`
	Notes             *string             `json:"notes,omitempty"`
	CreatorID         string              `json:"creator_id"`
	Attachments       []AttachmentRequest `json:"attachments,omitempty"`
	Draft             bool                `json:"draft,omitempty"`
}

type CounterOfferRequest struct {
	Amount     *float64 `json:"amount,omitempty"`
	ReviewDate *string  `json:"review_date,omitempty" format:"date-time"`
	PostDate   *string  `json:"post_date,omitempty" format:"date-time"`
	Notes      *string  `json:"notes,omitempty"`
}

type RejectOfferRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Response payloads

type AttachmentResponse struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
}

type OfferResponse struct {
	ID                string               `json:"id"`
	OfferName         string               `json:"offer_name"`
	ProposedAmount    float64              `json:"proposed_amount"`
	Description       string               `json:"description,omitempty"`
	DesiredReviewDate string               `json:"desired_review_date,omitempty" format:"date-time"`
	DesiredPostDate   string               `json:"desired_post_date,omitempty" format:"date-time"`
	Notes             string               `json:"notes,omitempty"`
	Status            string               `json:"status"`
	Draft             bool                 `json:"draft,omitempty"`
	MarketerID        string               `json:"marketer_id"`
	CreatorID         string               `json:"creator_id"`
	ViewedByCreator   bool                 `json:"viewed_by_creator"`
	ViewedByMarketer  bool                 `json:"viewed_by_marketer"`
	RejectionReason   string               `json:"rejection_reason,omitempty"`
	Attachments       []AttachmentResponse `json:"attachments,omitempty"`
	StatusLabel       string               `json:"status_label,omitempty"`
	CreatedAt         string               `json:"created_at" format:"date-time"`
	UpdatedAt         string               `json:"updated_at" format:"date-time"`
}

// OfferDetailResponse is the negotiation view: canonical offer, pending
// counter terms, the merged display values and the viewer's action row.
type OfferDetailResponse struct {
	Offer       OfferResponse    `json:"offer"`
	Counter     *CounterResponse `json:"counter,omitempty"`
	Display     DisplayTerms     `json:"display"`
	StatusLabel string           `json:"status_label"`
	Actions     []string         `json:"actions"`
}

type CounterResponse struct {
	Amount     *float64 `json:"amount,omitempty"`
	ReviewDate *string  `json:"review_date,omitempty" format:"date-time"`
	PostDate   *string  `json:"post_date,omitempty" format:"date-time"`
	Notes      *string  `json:"notes,omitempty"`
	Status     string   `json:"status"`
	UpdatedAt  string   `json:"updated_at" format:"date-time"`
}

// DisplayTerms are the draft-over-offer merged values; unset fields were
// absent from both sources.
type DisplayTerms struct {
	Amount     *float64 `json:"amount,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
	ReviewDate *string  `json:"review_date,omitempty" format:"date-time"`
	PostDate   *string  `json:"post_date,omitempty" format:"date-time"`
}

type DealResponse struct {
	ID         string  `json:"id"`
	OfferID    string  `json:"offer_id"`
	MarketerID string  `json:"marketer_id"`
	CreatorID  string  `json:"creator_id"`
	Amount     float64 `json:"amount"`
	PayerID    string  `json:"payer_id"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type AcceptOfferResponse struct {
	Offer           OfferResponse `json:"offer"`
	Deal            DealResponse  `json:"deal"`
	PaymentNeeded   bool          `json:"payment_needed"`
	RequiredPayment float64       `json:"required_payment,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Mappers

func domainAttachment(a AttachmentRequest) domain.Attachment {
	return domain.Attachment{FileName: a.FileName, FileURL: a.FileURL}
}

func offerResponse(o domain.Offer, role status.Role) OfferResponse {
	atts := make([]AttachmentResponse, 0, len(o.Attachments))
	for _, a := range o.Attachments {
		atts = append(atts, AttachmentResponse{FileName: a.FileName, FileURL: a.FileURL})
	}
	return OfferResponse{
		ID:                o.ID,
		OfferName:         o.OfferName,
		ProposedAmount:    o.ProposedAmount,
		Description:       o.Description,
		DesiredReviewDate: o.DesiredReviewDate,
		DesiredPostDate:   o.DesiredPostDate,
		Notes:             o.Notes,
		Status:            o.Status,
		Draft:             o.Draft,
		MarketerID:        o.MarketerID,
		CreatorID:         o.CreatorID,
		ViewedByCreator:   o.ViewedByCreator,
		ViewedByMarketer:  o.ViewedByMarketer,
		RejectionReason:   o.RejectionReason,
		Attachments:       atts,
		StatusLabel:       status.Label(o.Status, role, o.Draft),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func mapOffers(items []domain.Offer, role status.Role) []OfferResponse {
	out := make([]OfferResponse, 0, len(items))
	for _, o := range items {
		out = append(out, offerResponse(o, role))
	}
	return out
}

func counterResponse(d *domain.Draft) *CounterResponse {
	if d == nil {
		return nil
	}
	return &CounterResponse{
		Amount:     d.Amount,
		ReviewDate: d.ReviewDate,
		PostDate:   d.PostDate,
		Notes:      d.Notes,
		Status:     d.Status,
		UpdatedAt:  d.UpdatedAt,
	}
}

func detailResponse(d engine.Detail, role status.Role) OfferDetailResponse {
	actions := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		actions = append(actions, string(a))
	}
	return OfferDetailResponse{
		Offer:   offerResponse(d.Offer, role),
		Counter: counterResponse(d.Draft),
		Display: DisplayTerms{
			Amount:     d.Merged.Amount,
			Notes:      d.Merged.Notes,
			ReviewDate: d.Merged.ReviewDate,
			PostDate:   d.Merged.PostDate,
		},
		StatusLabel: d.Label,
		Actions:     actions,
	}
}

func dealResponse(d domain.Deal) DealResponse {
	return DealResponse{
		ID:         d.ID,
		OfferID:    d.OfferID,
		MarketerID: d.MarketerID,
		CreatorID:  d.CreatorID,
		Amount:     d.Amount,
		PayerID:    d.PayerID,
		Status:     d.Status,
		CreatedAt:  d.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	var payload map[string]any
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}
