package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"axees/internal/config"
	"axees/internal/db"
	"axees/internal/domain"
	"axees/internal/engine"
	"axees/internal/migrate"
	"axees/internal/repo"
	"axees/internal/status"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) createOffer(t *testing.T, amount float64) string {
	t.Helper()
	o, err := env.Engine.CreateOffer(env.Ctx, engine.OfferCreateOptions{
		OfferName:  "Spring campaign",
		Amount:     amount,
		MarketerID: "marketer-1",
		CreatorID:  "creator-1",
		ActorID:    "marketer-1",
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return o.ID
}

func TestOfferStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)

	o, err := env.Engine.MarkViewed(env.Ctx, id, status.RoleCreator, "creator-1")
	if err != nil || o.Status != status.ViewedByCreator {
		t.Fatalf("mark viewed: %v status=%s", err, o.Status)
	}
	if !o.ViewedByCreator {
		t.Fatalf("expected viewed flag set")
	}
	o, err = env.Engine.Reject(env.Ctx, id, "creator-1", "budget too low", false)
	if err != nil || o.Status != status.Rejected {
		t.Fatalf("reject: %v status=%s", err, o.Status)
	}
	if o.RejectionReason != "budget too low" {
		t.Fatalf("expected rejection reason, got %q", o.RejectionReason)
	}
	// terminal offers admit no further transitions
	_, err = env.Engine.Cancel(env.Ctx, id, "marketer-1", false)
	if !errors.Is(err, engine.ErrTerminalStatus) {
		t.Fatalf("expected terminal status error, got %v", err)
	}
	_, err = env.Engine.Accept(env.Ctx, id, "creator-1", false)
	if !errors.Is(err, engine.ErrTerminalStatus) {
		t.Fatalf("expected terminal status error on accept, got %v", err)
	}
}

func TestAcceptCreatesDealAndPaymentLiability(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 200)

	res, err := env.Engine.Accept(env.Ctx, id, "creator-1", false)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Offer.Status != status.Accepted {
		t.Fatalf("expected accepted, got %s", res.Offer.Status)
	}
	if res.Deal.Amount != 200 || res.Deal.OfferID != id {
		t.Fatalf("unexpected deal %+v", res.Deal)
	}
	// default config makes the marketer the payer, so the accepting
	// creator owes nothing
	if res.PaymentNeeded {
		t.Fatalf("creator should not be the payer")
	}
	deal, err := env.Engine.Repo.GetDealByOffer(env.Ctx, id)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if deal.PayerID != "marketer-1" {
		t.Fatalf("expected marketer payer, got %s", deal.PayerID)
	}
}

func TestAcceptByPayerComputesRequiredPayment(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 160)

	res, err := env.Engine.Accept(env.Ctx, id, "marketer-1", false)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !res.PaymentNeeded {
		t.Fatalf("marketer is the payer and should owe the deal amount")
	}
	// default fee is 250 basis points
	if res.RequiredPayment != 164 {
		t.Fatalf("expected 164, got %v", res.RequiredPayment)
	}
}

func TestAcceptFoldsCounterDraftIntoTerms(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)

	amount := 150.0
	notes := "raised rate"
	_, _, err := env.Engine.Counter(env.Ctx, engine.CounterOptions{
		OfferID: id, ActorID: "creator-1", Amount: &amount, Notes: &notes,
	})
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	res, err := env.Engine.Accept(env.Ctx, id, "marketer-1", false)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Offer.ProposedAmount != 150 {
		t.Fatalf("expected countered amount folded in, got %v", res.Offer.ProposedAmount)
	}
	if res.Offer.Notes != "raised rate" {
		t.Fatalf("expected countered notes folded in, got %q", res.Offer.Notes)
	}
	if res.Deal.Amount != 150 {
		t.Fatalf("deal should use final terms, got %v", res.Deal.Amount)
	}
	// the draft is consumed on acceptance
	if _, err := env.Engine.Repo.GetDraft(env.Ctx, id); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected draft deleted, got %v", err)
	}
}

func TestCounterUpsertsSingleDraft(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)

	first := 120.0
	o, d, err := env.Engine.Counter(env.Ctx, engine.CounterOptions{OfferID: id, ActorID: "creator-1", Amount: &first})
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if o.Status != status.Countered || d.Status != status.Countered {
		t.Fatalf("expected countered status, got offer=%s draft=%s", o.Status, d.Status)
	}
	if o.ViewedByMarketer {
		t.Fatalf("counterparty viewed flag should reset")
	}
	// a second counter replaces the draft rather than stacking
	second := 130.0
	_, _, err = env.Engine.Counter(env.Ctx, engine.CounterOptions{OfferID: id, ActorID: "marketer-1", Amount: &second})
	if err != nil {
		t.Fatalf("second counter: %v", err)
	}
	got, err := env.Engine.Repo.GetDraft(env.Ctx, id)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got.Amount == nil || *got.Amount != 130 {
		t.Fatalf("expected replaced draft amount 130, got %+v", got.Amount)
	}
}

func TestCounterRequiresChangedTerm(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)
	_, _, err := env.Engine.Counter(env.Ctx, engine.CounterOptions{OfferID: id, ActorID: "creator-1"})
	if err == nil {
		t.Fatalf("expected error for empty counter")
	}
}

func TestDeleteOnlyWhileUndisputed(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)

	// a stranger may not delete
	err := env.Engine.Delete(env.Ctx, id, "creator-1")
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	// once countered, deletion is off the table
	amount := 110.0
	if _, _, err := env.Engine.Counter(env.Ctx, engine.CounterOptions{OfferID: id, ActorID: "creator-1", Amount: &amount}); err != nil {
		t.Fatalf("counter: %v", err)
	}
	if err := env.Engine.Delete(env.Ctx, id, "marketer-1"); !errors.Is(err, engine.ErrOfferCountered) {
		t.Fatalf("expected countered error, got %v", err)
	}
	// a fresh Sent offer deletes fine
	id2 := env.createOffer(t, 100)
	if err := env.Engine.Delete(env.Ctx, id2, "marketer-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetOffer(env.Ctx, id2); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected offer gone, got %v", err)
	}
}

func TestCancelRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)

	_, err := env.Engine.Cancel(env.Ctx, id, "creator-1", false)
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	o, err := env.Engine.Cancel(env.Ctx, id, "marketer-1", false)
	if err != nil || o.Status != status.Cancelled {
		t.Fatalf("cancel: %v status=%s", err, o.Status)
	}
}

func TestMarkViewedRequiresMatchingParty(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)

	// a stranger cannot touch the negotiation's viewed state
	_, err := env.Engine.MarkViewed(env.Ctx, id, status.RoleCreator, "stranger-9")
	var forbidden engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	// nor can one party record a view for the other side
	_, err = env.Engine.MarkViewed(env.Ctx, id, status.RoleCreator, "marketer-1")
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden for cross-side view, got %v", err)
	}
	o, err := env.Engine.Repo.GetOffer(env.Ctx, id)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if o.Status != status.Sent || o.ViewedByCreator || o.ViewedByMarketer {
		t.Fatalf("offer state changed by rejected views: %+v", o)
	}
}

func TestDeleteRefusesWhenDraftExists(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)

	// simulate a counter draft landing while the status still reads Sent
	amount := 115.0
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	d := domain.Draft{
		OfferID:   id,
		Amount:    &amount,
		Status:    status.Countered,
		CreatedAt: "2024-06-01T00:00:00Z",
		UpdatedAt: "2024-06-01T00:00:00Z",
	}
	if err := env.Engine.Repo.UpsertDraft(env.Ctx, tx, d); err != nil {
		t.Fatalf("upsert draft: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := env.Engine.Delete(env.Ctx, id, "marketer-1"); !errors.Is(err, engine.ErrOfferCountered) {
		t.Fatalf("expected countered error, got %v", err)
	}
	if _, err := env.Engine.Repo.GetOffer(env.Ctx, id); err != nil {
		t.Fatalf("offer should survive: %v", err)
	}
}

func TestMarkViewedIsIdempotentAndPreservesCounter(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)

	amount := 140.0
	if _, _, err := env.Engine.Counter(env.Ctx, engine.CounterOptions{OfferID: id, ActorID: "creator-1", Amount: &amount}); err != nil {
		t.Fatalf("counter: %v", err)
	}
	// viewing a countered offer records the flag but keeps the status
	o, err := env.Engine.MarkViewed(env.Ctx, id, status.RoleMarketer, "marketer-1")
	if err != nil {
		t.Fatalf("mark viewed: %v", err)
	}
	if o.Status != status.Countered {
		t.Fatalf("counter status clobbered: %s", o.Status)
	}
	if !o.ViewedByMarketer {
		t.Fatalf("expected viewed flag")
	}
	// second view is a no-op
	again, err := env.Engine.MarkViewed(env.Ctx, id, status.RoleMarketer, "marketer-1")
	if err != nil || again.UpdatedAt != o.UpdatedAt {
		t.Fatalf("expected idempotent view: %v", err)
	}
}

func TestOfferDetailMergesDraftAndActions(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)

	amount := 175.0
	if _, _, err := env.Engine.Counter(env.Ctx, engine.CounterOptions{OfferID: id, ActorID: "creator-1", Amount: &amount}); err != nil {
		t.Fatalf("counter: %v", err)
	}
	detail, err := env.Engine.OfferDetail(env.Ctx, id, "marketer-1", status.RoleMarketer)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Merged.Amount == nil || *detail.Merged.Amount != 175 {
		t.Fatalf("expected merged amount 175, got %+v", detail.Merged.Amount)
	}
	if detail.Label != "Counter Offered" {
		t.Fatalf("unexpected label %q", detail.Label)
	}
	want := []status.Action{status.ActionAccept, status.ActionCounter, status.ActionReject}
	if len(detail.Actions) != len(want) {
		t.Fatalf("unexpected actions %v", detail.Actions)
	}
	for i, a := range want {
		if detail.Actions[i] != a {
			t.Fatalf("action %d = %s, want %s", i, detail.Actions[i], a)
		}
	}
}

func TestEventAppendOnNegotiationChanges(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOffer(t, 100)

	amount := 125.0
	_, _, _ = env.Engine.Counter(env.Ctx, engine.CounterOptions{OfferID: id, ActorID: "creator-1", Amount: &amount})
	_, _ = env.Engine.Accept(env.Ctx, id, "marketer-1", false)

	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, id)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if count < 3 {
		t.Fatalf("expected created/countered/accepted events, got %d", count)
	}
}
