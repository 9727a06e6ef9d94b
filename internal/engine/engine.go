package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"axees/internal/config"
	"axees/internal/domain"
	"axees/internal/events"
	"axees/internal/repo"
	"axees/internal/status"
	"axees/internal/view"
)

// Engine owns the offer negotiation lifecycle. Status transitions are
// validated here, server-side; clients only observe the result.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ForbiddenError indicates the acting user is not allowed to perform the
// operation on this offer.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string { return e.Reason }

var (
	ErrTerminalStatus = errors.New("offer is in a terminal status; no further actions permitted")
	ErrOfferCountered = errors.New("offer has been countered and can no longer be deleted")
)

// ensureOfferTransition enforces the monotonic negotiation lifecycle.
// Terminal statuses admit no transition at all; force is reserved for
// operator tooling.
func ensureOfferTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	if status.IsTerminal(oldStatus) {
		return fmt.Errorf("invalid offer status transition %s -> %s: %w", oldStatus, newStatus, ErrTerminalStatus)
	}
	if oldStatus == status.OfferReceived {
		oldStatus = status.Sent
	}
	switch oldStatus {
	case status.Sent, status.InReview, status.ViewedByCreator, status.ViewedByMarketer:
		switch newStatus {
		case status.InReview, status.ViewedByCreator, status.ViewedByMarketer,
			status.Countered, status.Accepted, status.Rejected, status.Cancelled:
			return nil
		}
	case status.Countered:
		switch newStatus {
		case status.Countered, status.ViewedByCreator, status.ViewedByMarketer,
			status.Accepted, status.Rejected, status.Cancelled:
			return nil
		}
	}
	return fmt.Errorf("invalid offer status transition %s -> %s", oldStatus, newStatus)
}

// OfferCreateOptions are parameters for creating an offer.
type OfferCreateOptions struct {
	ID          string
	OfferName   string
	Amount      float64
	Description string
	ReviewDate  string
	PostDate    string
	Notes       string
	MarketerID  string
	CreatorID   string
	Attachments []domain.Attachment
	Draft       bool
	ActorID     string
}

func (e Engine) CreateOffer(ctx context.Context, opts OfferCreateOptions) (domain.Offer, error) {
	if opts.OfferName == "" {
		return domain.Offer{}, errors.New("offer_name is required")
	}
	if opts.MarketerID == "" {
		return domain.Offer{}, errors.New("marketer_id is required")
	}
	if opts.CreatorID == "" {
		return domain.Offer{}, errors.New("creator_id is required")
	}
	if opts.Amount <= 0 {
		return domain.Offer{}, errors.New("proposed_amount must be positive")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	o := domain.Offer{
		ID:                id,
		OfferName:         opts.OfferName,
		ProposedAmount:    opts.Amount,
		Description:       opts.Description,
		DesiredReviewDate: opts.ReviewDate,
		DesiredPostDate:   opts.PostDate,
		Notes:             opts.Notes,
		Status:            status.Sent,
		Draft:             opts.Draft,
		MarketerID:        opts.MarketerID,
		CreatorID:         opts.CreatorID,
		Attachments:       opts.Attachments,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Offer{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertOffer(ctx, tx, o); err != nil {
		return domain.Offer{}, fmt.Errorf("insert offer: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.OfferCreated, "offer", o.ID, opts.ActorID, events.EventPayload{
		"offer_name": o.OfferName,
		"amount":     o.ProposedAmount,
		"status":     o.Status,
	}); err != nil {
		return domain.Offer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

// MarkViewed records that one side has seen the current terms. The viewed
// flag always sticks; the status only moves while the offer is still in its
// early lifecycle, so a counter or terminal status is never clobbered.
func (e Engine) MarkViewed(ctx context.Context, offerID string, role status.Role, actorID string) (domain.Offer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Offer{}, err
	}
	defer tx.Rollback()
	o, err := e.Repo.GetOfferTx(ctx, tx, offerID)
	if err != nil {
		return o, err
	}
	switch role {
	case status.RoleCreator:
		if actorID != o.CreatorID {
			return o, ForbiddenError{Reason: "only the offer's creator may record a creator view"}
		}
	case status.RoleMarketer:
		if actorID != o.MarketerID {
			return o, ForbiddenError{Reason: "only the offer's marketer may record a marketer view"}
		}
	default:
		return o, fmt.Errorf("invalid role %q", role)
	}
	if status.IsTerminal(o.Status) {
		return o, nil
	}
	viewedStatus := ""
	changed := false
	if role == status.RoleCreator {
		viewedStatus = status.ViewedByCreator
		changed = !o.ViewedByCreator
		o.ViewedByCreator = true
	} else {
		viewedStatus = status.ViewedByMarketer
		changed = !o.ViewedByMarketer
		o.ViewedByMarketer = true
	}
	if !changed {
		return o, nil
	}
	switch o.Status {
	case status.Sent, status.OfferReceived, status.InReview:
		o.Status = viewedStatus
	}
	o.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.UpdateOffer(ctx, tx, o); err != nil {
		return o, err
	}
	if err := e.Events.Append(ctx, tx, events.OfferViewed, "offer", o.ID, actorID, events.EventPayload{
		"role":   string(role),
		"status": o.Status,
	}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// AcceptResult carries the outcome of accepting an offer. PaymentNeeded is
// true when the accepting user is the liable payer for the created deal.
type AcceptResult struct {
	Offer           domain.Offer
	Deal            domain.Deal
	PaymentNeeded   bool
	RequiredPayment float64
}

// Accept folds any counter-offer draft into the canonical terms, finalizes
// the offer and creates the deal.
func (e Engine) Accept(ctx context.Context, offerID, userID string, force bool) (AcceptResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AcceptResult{}, err
	}
	defer tx.Rollback()

	// Offer and draft are read inside the transaction so a counter
	// committing concurrently cannot slip past the checks below.
	o, err := e.Repo.GetOfferTx(ctx, tx, offerID)
	if err != nil {
		return AcceptResult{}, err
	}
	if userID != o.MarketerID && userID != o.CreatorID {
		return AcceptResult{}, ForbiddenError{Reason: "only a party to the offer may accept it"}
	}
	if err := ensureOfferTransition(o.Status, status.Accepted, force); err != nil {
		return AcceptResult{}, err
	}

	var draft *domain.Draft
	if d, err := e.Repo.GetDraftTx(ctx, tx, o.ID); err == nil {
		draft = &d
	} else if !errors.Is(err, repo.ErrNotFound) {
		return AcceptResult{}, err
	}

	// Fold the overlay into the canonical record before finalizing.
	merged := view.Merge(&o, draft)
	if merged.Amount != nil {
		o.ProposedAmount = *merged.Amount
	}
	if merged.Notes != nil {
		o.Notes = *merged.Notes
	}
	if merged.ReviewDate != nil {
		o.DesiredReviewDate = *merged.ReviewDate
	}
	if merged.PostDate != nil {
		o.DesiredPostDate = *merged.PostDate
	}
	o.Status = status.Accepted
	o.Draft = false
	o.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.UpdateOffer(ctx, tx, o); err != nil {
		return AcceptResult{}, err
	}
	if draft != nil {
		if err := e.Repo.DeleteDraft(ctx, tx, o.ID); err != nil {
			return AcceptResult{}, err
		}
	}

	deal := domain.Deal{
		ID:         uuid.New().String(),
		OfferID:    o.ID,
		MarketerID: o.MarketerID,
		CreatorID:  o.CreatorID,
		Amount:     o.ProposedAmount,
		PayerID:    e.payerFor(o),
		Status:     "pending_funding",
		CreatedAt:  o.UpdatedAt,
	}
	if err := e.Repo.InsertDeal(ctx, tx, deal); err != nil {
		return AcceptResult{}, fmt.Errorf("insert deal: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.OfferAccepted, "offer", o.ID, userID, events.EventPayload{
		"amount":  o.ProposedAmount,
		"deal_id": deal.ID,
	}); err != nil {
		return AcceptResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.DealCreated, "deal", deal.ID, userID, events.EventPayload{
		"offer_id": o.ID,
		"payer_id": deal.PayerID,
		"amount":   deal.Amount,
	}); err != nil {
		return AcceptResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AcceptResult{}, err
	}

	res := AcceptResult{Offer: o, Deal: deal, PaymentNeeded: userID == deal.PayerID}
	if res.PaymentNeeded {
		res.RequiredPayment = deal.Amount * e.feeMultiplier()
	}
	return res, nil
}

func (e Engine) payerFor(o domain.Offer) string {
	if e.Config != nil && e.Config.Payments.Payer == "creator" {
		return o.CreatorID
	}
	return o.MarketerID
}

func (e Engine) feeMultiplier() float64 {
	if e.Config == nil {
		return 1
	}
	return e.Config.FeeMultiplier()
}

// Reject finalizes the offer as rejected, recording the reason.
func (e Engine) Reject(ctx context.Context, offerID, userID, reason string, force bool) (domain.Offer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Offer{}, err
	}
	defer tx.Rollback()
	o, err := e.Repo.GetOfferTx(ctx, tx, offerID)
	if err != nil {
		return o, err
	}
	if userID != o.MarketerID && userID != o.CreatorID {
		return o, ForbiddenError{Reason: "only a party to the offer may reject it"}
	}
	if err := ensureOfferTransition(o.Status, status.Rejected, force); err != nil {
		return o, err
	}
	o.Status = status.Rejected
	o.RejectionReason = reason
	o.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.UpdateOffer(ctx, tx, o); err != nil {
		return o, err
	}
	if err := e.Repo.DeleteDraft(ctx, tx, o.ID); err != nil {
		return o, err
	}
	if err := e.Events.Append(ctx, tx, events.OfferRejected, "offer", o.ID, userID, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// CounterOptions carries the proposed replacement terms. Nil fields keep the
// canonical value.
type CounterOptions struct {
	OfferID    string
	ActorID    string
	Amount     *float64
	ReviewDate *string
	PostDate   *string
	Notes      *string
}

// Counter upserts the single counter-offer draft for the offer and moves the
// negotiation to Rejected-Countered. The other party's viewed flag is reset
// so the new terms read as unseen.
func (e Engine) Counter(ctx context.Context, opts CounterOptions) (domain.Offer, domain.Draft, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Offer{}, domain.Draft{}, err
	}
	defer tx.Rollback()
	o, err := e.Repo.GetOfferTx(ctx, tx, opts.OfferID)
	if err != nil {
		return o, domain.Draft{}, err
	}
	if opts.ActorID != o.MarketerID && opts.ActorID != o.CreatorID {
		return o, domain.Draft{}, ForbiddenError{Reason: "only a party to the offer may counter it"}
	}
	if opts.Amount == nil && opts.ReviewDate == nil && opts.PostDate == nil && opts.Notes == nil {
		return o, domain.Draft{}, errors.New("counter requires at least one changed term")
	}
	if opts.Amount != nil && *opts.Amount <= 0 {
		return o, domain.Draft{}, errors.New("counter amount must be positive")
	}
	if err := ensureOfferTransition(o.Status, status.Countered, false); err != nil {
		return o, domain.Draft{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	d := domain.Draft{
		OfferID:    o.ID,
		Amount:     opts.Amount,
		ReviewDate: opts.ReviewDate,
		PostDate:   opts.PostDate,
		Notes:      opts.Notes,
		Status:     status.Countered,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.Status = status.Countered
	if opts.ActorID == o.MarketerID {
		o.ViewedByCreator = false
	} else {
		o.ViewedByMarketer = false
	}
	o.UpdatedAt = now

	if err := e.Repo.UpsertDraft(ctx, tx, d); err != nil {
		return o, d, err
	}
	if err := e.Repo.UpdateOffer(ctx, tx, o); err != nil {
		return o, d, err
	}
	payload := events.EventPayload{}
	if opts.Amount != nil {
		payload["amount"] = *opts.Amount
	}
	if err := e.Events.Append(ctx, tx, events.OfferCountered, "offer", o.ID, opts.ActorID, payload); err != nil {
		return o, d, err
	}
	if err := tx.Commit(); err != nil {
		return o, d, err
	}
	return o, d, nil
}

// Cancel withdraws a live offer. Only the owning marketer may cancel.
func (e Engine) Cancel(ctx context.Context, offerID, userID string, force bool) (domain.Offer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Offer{}, err
	}
	defer tx.Rollback()
	o, err := e.Repo.GetOfferTx(ctx, tx, offerID)
	if err != nil {
		return o, err
	}
	if userID != o.MarketerID {
		return o, ForbiddenError{Reason: "only the owning marketer may cancel the offer"}
	}
	if err := ensureOfferTransition(o.Status, status.Cancelled, force); err != nil {
		return o, err
	}
	o.Status = status.Cancelled
	o.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.UpdateOffer(ctx, tx, o); err != nil {
		return o, err
	}
	if err := e.Repo.DeleteDraft(ctx, tx, o.ID); err != nil {
		return o, err
	}
	if err := e.Events.Append(ctx, tx, events.OfferCancelled, "offer", o.ID, userID, events.EventPayload{}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// Delete removes an offer entirely. Allowed only for the owning marketer
// while the offer is still an undisputed Sent: once countered (or otherwise
// progressed), the negotiation has two authors and deletion is off the table.
func (e Engine) Delete(ctx context.Context, offerID, userID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Status and draft are checked inside the transaction: a counter that
	// commits between read and delete would otherwise be silently dropped
	// by the cascade.
	o, err := e.Repo.GetOfferTx(ctx, tx, offerID)
	if err != nil {
		return err
	}
	if userID != o.MarketerID {
		return ForbiddenError{Reason: "only the owning marketer may delete the offer"}
	}
	if o.Status == status.Countered {
		return ErrOfferCountered
	}
	if o.Status != status.Sent && o.Status != status.OfferReceived {
		return fmt.Errorf("offer in status %s can no longer be deleted", o.Status)
	}
	if _, err := e.Repo.GetDraftTx(ctx, tx, o.ID); err == nil {
		return ErrOfferCountered
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	if err := e.Repo.DeleteOffer(ctx, tx, o.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.OfferDeleted, "offer", o.ID, userID, events.EventPayload{
		"offer_name": o.OfferName,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Detail assembles the merged display record plus the viewer's label and
// action row for one offer.
type Detail struct {
	Offer   domain.Offer
	Draft   *domain.Draft
	Merged  view.Detail
	Label   string
	Actions []status.Action
}

func (e Engine) OfferDetail(ctx context.Context, offerID, viewerID string, role status.Role) (Detail, error) {
	o, err := e.Repo.GetOffer(ctx, offerID)
	if err != nil {
		return Detail{}, err
	}
	var draft *domain.Draft
	if d, err := e.Repo.GetDraft(ctx, o.ID); err == nil {
		draft = &d
	} else if !errors.Is(err, repo.ErrNotFound) {
		return Detail{}, err
	}
	countered := draft != nil || o.Status == status.Countered
	return Detail{
		Offer:   o,
		Draft:   draft,
		Merged:  view.Merge(&o, draft),
		Label:   view.Label(&o, draft, role),
		Actions: status.AvailableActions(o.Status, role, viewerID == o.MarketerID, countered),
	}, nil
}
