package types

// RegisterRequest carries one instrument registration: the base fields plus
// the type-specific extension fields, both as raw payloads so the schema
// registry can validate and coerce them.
type RegisterRequest struct {
	Instrument map[string]any `json:"instrument" binding:"required"`
	Extension  map[string]any `json:"extension,omitempty"`
}

// DelistRequest marks an instrument as retired from a given date
type DelistRequest struct {
	DelistedDate string `json:"delisted_date" binding:"required"`
}

// ConversionPriceRequest records a convertible bond conversion price revision
type ConversionPriceRequest struct {
	AnnouncementDate string `json:"announcement_date" binding:"required"`
	EffectiveDate    string `json:"effective_date" binding:"required"`
	ConversionPrice  string `json:"conversion_price" binding:"required"`
}
