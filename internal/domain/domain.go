package domain

type Offer struct {
	ID                string       `json:"id"`
	OfferName         string       `json:"offer_name"`
	ProposedAmount    float64      `json:"proposed_amount"`
	Description       string       `json:"description,omitempty"`
	DesiredReviewDate string       `json:"desired_review_date,omitempty" format:"date-time"`
	DesiredPostDate   string       `json:"desired_post_date,omitempty" format:"date-time"`
	Notes             string       `json:"notes,omitempty"`
	Status            string       `json:"status"`
	Draft             bool         `json:"draft,omitempty"`
	MarketerID        string       `json:"marketer_id"`
	CreatorID         string       `json:"creator_id"`
	ViewedByCreator   bool         `json:"viewed_by_creator"`
	ViewedByMarketer  bool         `json:"viewed_by_marketer"`
	RejectionReason   string       `json:"rejection_reason,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	CreatedAt         string       `json:"created_at" format:"date-time"`
	UpdatedAt         string       `json:"updated_at" format:"date-time"`
}

type Attachment struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
}

// Draft holds counter-offer terms not yet merged into the canonical offer.
// Zero or one per offer; a nil field means "no change to the canonical value".
type Draft struct {
	OfferID    string   `json:"offer_id"`
	Amount     *float64 `json:"amount,omitempty"`
	ReviewDate *string  `json:"review_date,omitempty" format:"date-time"`
	PostDate   *string  `json:"post_date,omitempty" format:"date-time"`
	Notes      *string  `json:"notes,omitempty"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
	UpdatedAt  string   `json:"updated_at" format:"date-time"`
}

// Deal is the accepted, binding successor to an offer.
type Deal struct {
	ID         string  `json:"id"`
	OfferID    string  `json:"offer_id"`
	MarketerID string  `json:"marketer_id"`
	CreatorID  string  `json:"creator_id"`
	Amount     float64 `json:"amount"`
	PayerID    string  `json:"payer_id"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	UserType  string `json:"user_type"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
