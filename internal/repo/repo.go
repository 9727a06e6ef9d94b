package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"axees/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const offerColumns = `id,offer_name,proposed_amount,COALESCE(description,''),COALESCE(desired_review_date,''),COALESCE(desired_post_date,''),COALESCE(notes,''),status,draft,marketer_id,creator_id,viewed_by_creator,viewed_by_marketer,COALESCE(rejection_reason,''),created_at,updated_at`

type offerScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row offerScanner) (domain.Offer, error) {
	var o domain.Offer
	err := row.Scan(
		&o.ID, &o.OfferName, &o.ProposedAmount, &o.Description,
		&o.DesiredReviewDate, &o.DesiredPostDate, &o.Notes, &o.Status, &o.Draft,
		&o.MarketerID, &o.CreatorID, &o.ViewedByCreator, &o.ViewedByMarketer,
		&o.RejectionReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) InsertOffer(ctx context.Context, tx *sql.Tx, o domain.Offer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO offers(id,offer_name,proposed_amount,description,desired_review_date,desired_post_date,notes,status,draft,marketer_id,creator_id,viewed_by_creator,viewed_by_marketer,rejection_reason,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.OfferName, o.ProposedAmount, nullable(o.Description),
		nullable(o.DesiredReviewDate), nullable(o.DesiredPostDate), nullable(o.Notes),
		o.Status, o.Draft, o.MarketerID, o.CreatorID,
		o.ViewedByCreator, o.ViewedByMarketer, nullable(o.RejectionReason),
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	return r.replaceAttachments(ctx, tx, o.ID, o.Attachments)
}

func (r Repo) UpdateOffer(ctx context.Context, tx *sql.Tx, o domain.Offer) error {
	res, err := tx.ExecContext(ctx, `UPDATE offers SET offer_name=?,proposed_amount=?,description=?,desired_review_date=?,desired_post_date=?,notes=?,status=?,draft=?,viewed_by_creator=?,viewed_by_marketer=?,rejection_reason=?,updated_at=? WHERE id=?`,
		o.OfferName, o.ProposedAmount, nullable(o.Description),
		nullable(o.DesiredReviewDate), nullable(o.DesiredPostDate), nullable(o.Notes),
		o.Status, o.Draft, o.ViewedByCreator, o.ViewedByMarketer,
		nullable(o.RejectionReason), o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	o, err := scanOffer(r.DB.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=?`, id))
	if err != nil {
		return o, err
	}
	o.Attachments, err = r.ListAttachments(ctx, id)
	return o, err
}

func (r Repo) GetOfferTx(ctx context.Context, tx *sql.Tx, id string) (domain.Offer, error) {
	return scanOffer(tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id=?`, id))
}

// OfferFilters narrows ListOffers. MarketerID/CreatorID scope the listing to
// one side of the marketplace.
type OfferFilters struct {
	MarketerID      string
	CreatorID       string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListOffers(ctx context.Context, f OfferFilters) ([]domain.Offer, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.MarketerID != "" {
		clauses = append(clauses, "marketer_id=?")
		args = append(args, f.MarketerID)
	}
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + offerColumns + ` FROM offers WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) DeleteOffer(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM offers WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) replaceAttachments(ctx context.Context, tx *sql.Tx, offerID string, atts []domain.Attachment) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM offer_attachments WHERE offer_id=?`, offerID); err != nil {
		return err
	}
	for i, a := range atts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO offer_attachments(offer_id,position,file_name,file_url) VALUES (?,?,?,?)`,
			offerID, i, a.FileName, a.FileURL); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListAttachments(ctx context.Context, offerID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT file_name,file_url FROM offer_attachments WHERE offer_id=? ORDER BY position`, offerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.FileName, &a.FileURL); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpsertDraft(ctx context.Context, tx *sql.Tx, d domain.Draft) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO drafts(offer_id,amount,review_date,post_date,notes,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(offer_id) DO UPDATE SET amount=excluded.amount, review_date=excluded.review_date, post_date=excluded.post_date, notes=excluded.notes, status=excluded.status, updated_at=excluded.updated_at`,
		d.OfferID, nullableFloatPtr(d.Amount), nullableStringPtr(d.ReviewDate),
		nullableStringPtr(d.PostDate), nullableStringPtr(d.Notes),
		d.Status, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDraft(ctx context.Context, offerID string) (domain.Draft, error) {
	return scanDraft(r.DB.QueryRowContext(ctx, `SELECT offer_id,amount,review_date,post_date,notes,status,created_at,updated_at FROM drafts WHERE offer_id=?`, offerID))
}

func (r Repo) GetDraftTx(ctx context.Context, tx *sql.Tx, offerID string) (domain.Draft, error) {
	return scanDraft(tx.QueryRowContext(ctx, `SELECT offer_id,amount,review_date,post_date,notes,status,created_at,updated_at FROM drafts WHERE offer_id=?`, offerID))
}

func scanDraft(row offerScanner) (domain.Draft, error) {
	var d domain.Draft
	var amount sql.NullFloat64
	var review, post, notes sql.NullString
	err := row.Scan(&d.OfferID, &amount, &review, &post, &notes, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if amount.Valid {
		d.Amount = &amount.Float64
	}
	if review.Valid {
		d.ReviewDate = &review.String
	}
	if post.Valid {
		d.PostDate = &post.String
	}
	if notes.Valid {
		d.Notes = &notes.String
	}
	return d, nil
}

func (r Repo) DeleteDraft(ctx context.Context, tx *sql.Tx, offerID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM drafts WHERE offer_id=?`, offerID)
	return err
}

func (r Repo) InsertDeal(ctx context.Context, tx *sql.Tx, d domain.Deal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO deals(id,offer_id,marketer_id,creator_id,amount,payer_id,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.OfferID, d.MarketerID, d.CreatorID, d.Amount, d.PayerID, d.Status, d.CreatedAt)
	return err
}

func (r Repo) GetDealByOffer(ctx context.Context, offerID string) (domain.Deal, error) {
	var d domain.Deal
	err := r.DB.QueryRowContext(ctx, `SELECT id,offer_id,marketer_id,creator_id,amount,payer_id,status,created_at FROM deals WHERE offer_id=?`, offerID).
		Scan(&d.ID, &d.OfferID, &d.MarketerID, &d.CreatorID, &d.Amount, &d.PayerID, &d.Status, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) CountOffersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM offers GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

// LatestEvents returns the newest events first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with id > cursor in ascending order, for
// webhook delivery.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id > ? ORDER BY id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, cursor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
