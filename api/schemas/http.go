// File: api/schemas/http.go
package schemas

// Request and response bodies for the HTTP surface. Kept here so the server,
// the CLI and external callers share one definition.

type PlanAndSearchRequest struct {
	UserRequest string `json:"user_request"`
	SiteHint    string `json:"site_hint,omitempty"`
	Headless    *bool  `json:"headless,omitempty"`
}

type PlanAndSearchResponse struct {
	SessionID string          `json:"session_id"`
	Products  []ProductRecord `json:"products"`
	// Dropped counts listing entries discarded during extraction (unparsable
	// price, missing link). A zero-product success is therefore always
	// distinguishable from a failed extraction.
	Dropped int `json:"dropped"`
}

type ChooseRequest struct {
	ProductIndex *int  `json:"product_index"`
	Headless     *bool `json:"headless,omitempty"`
}

type ChooseResponse struct {
	// Status is "success" once the selection committed; failures surface as
	// the error envelope instead. Stage reports where the session landed:
	// selected, or degraded when the cart page could not be verified.
	Status           string `json:"status"`
	Stage            Stage  `json:"stage"`
	PageURL          string `json:"page_url"`
	ScreenshotBase64 string `json:"screenshot_base64"`
}

type CheckoutRequest struct {
	Shipping *ShippingInfo `json:"shipping,omitempty"`
	Headless *bool         `json:"headless,omitempty"`
}

type CheckoutResponse struct {
	CheckoutURL      string `json:"checkout_url"`
	ScreenshotBase64 string `json:"screenshot_base64"`
	FilledShipping   bool   `json:"filled_shipping"`
	// Note reminds the caller that payment is completed out-of-band.
	Note string `json:"note,omitempty"`
}

// ErrorDetail is the structured error object every endpoint returns on
// failure, always distinct from the success payload shape.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}
