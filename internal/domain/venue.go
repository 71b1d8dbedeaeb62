package domain

// VenueKind selects the acquisition protocol a venue session speaks.
type VenueKind string

const (
	VenueKindPolling   VenueKind = "polling"
	VenueKindStreaming VenueKind = "streaming"
	VenueKindChainLog  VenueKind = "chainlog"
)

// Valid reports whether k is one of the known protocol kinds.
func (k VenueKind) Valid() bool {
	switch k {
	case VenueKindPolling, VenueKindStreaming, VenueKindChainLog:
		return true
	}
	return false
}

// Well-known venue names.
const (
	VenueKalshi     = "kalshi"
	VenuePolymarket = "polymarket"
)

// Venue is a registered trading platform. Venues are built from config at
// startup and never change afterwards.
type Venue struct {
	Name     string
	Kind     VenueKind
	Provider string // adapter implementation: "kalshi", "polymarket", "ctf"
	BaseURL  string
	Active   bool
}
