// File: api/schemas/schemas.go
package schemas

import "time"

// Stage is a session's position in the shopping workflow. Transitions move
// monotonically forward except on explicit restart; Degraded is an
// error-absorbing sub-state that still leaves the session usable.
type Stage string

const (
	StageSearching   Stage = "searching"
	StageSelected    Stage = "selected"
	StageCheckingOut Stage = "checking_out"
	StageClosed      Stage = "closed"
	StageDegraded    Stage = "degraded"
)

// Price is a decimal amount with an ISO 4217 currency code, normalized from
// locale-formatted listing text.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// ProductRecord is one normalized listing entry. Index is the position in the
// result list and is the sole handle a later choose call uses to reference the
// record; it must not change for the lifetime of the session's search stage.
type ProductRecord struct {
	Title string `json:"title"`
	Price Price  `json:"price"`
	Link  string `json:"link"`
	Index int    `json:"index"`
}

// ShippingInfo holds address and contact fields only. There are deliberately
// no payment fields here, and request decoding rejects unknown keys so payment
// data cannot ride along in the same object.
type ShippingInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Validate checks the fields required to address a parcel are present.
// Postal correctness is not our problem; the site validates that.
func (s ShippingInfo) Validate() error {
	switch {
	case s.FirstName == "":
		return NewStageError(CodeCheckoutFailed, "shipping: first_name is required")
	case s.LastName == "":
		return NewStageError(CodeCheckoutFailed, "shipping: last_name is required")
	case s.Address1 == "":
		return NewStageError(CodeCheckoutFailed, "shipping: address1 is required")
	case s.City == "":
		return NewStageError(CodeCheckoutFailed, "shipping: city is required")
	case s.Zip == "":
		return NewStageError(CodeCheckoutFailed, "shipping: zip is required")
	}
	return nil
}

// Fields returns the populated fields keyed by the canonical names the
// selector registry maps to page inputs.
func (s ShippingInfo) Fields() map[string]string {
	out := make(map[string]string, 9)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("first_name", s.FirstName)
	put("last_name", s.LastName)
	put("address1", s.Address1)
	put("address2", s.Address2)
	put("city", s.City)
	put("state", s.State)
	put("zip", s.Zip)
	put("phone", s.Phone)
	put("email", s.Email)
	return out
}

// RawListingItem is an unnormalized listing fragment scraped from the page,
// before the extractor turns it into a ProductRecord.
type RawListingItem struct {
	Title     string `json:"title"`
	PriceText string `json:"price_text"`
	Href      string `json:"href"`
	HTML      string `json:"html,omitempty"`
}

// SessionInfo is the externally visible snapshot of a session.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	Site         string    `json:"site"`
	Stage        Stage     `json:"stage"`
	Products     int       `json:"products"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}
