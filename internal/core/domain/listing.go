package domain

import (
	"fmt"
	"strings"
	"time"
)

type UnitStatus string

const (
	UnitStatusAvailable UnitStatus = "available"
	UnitStatusReserved  UnitStatus = "reserved"
	UnitStatusSold      UnitStatus = "sold"
)

type SeatingType string

const (
	SeatingTypeNumbered   SeatingType = "numbered"
	SeatingTypeUnnumbered SeatingType = "unnumbered"
)

type ListingStatus string

const (
	ListingStatusPending   ListingStatus = "pending"
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
	ListingStatusExpired   ListingStatus = "expired"
)

type Seat struct {
	Row        string `json:"row"`
	SeatNumber string `json:"seat_number"`
}

// key identifies a seat case-insensitively within a listing.
func (s Seat) key() string {
	return strings.ToLower(strings.TrimSpace(s.Row)) + "\x00" + strings.ToLower(strings.TrimSpace(s.SeatNumber))
}

// TicketUnit is the smallest reservable item of a listing.
type TicketUnit struct {
	ID     string     `json:"id"`
	Status UnitStatus `json:"status"`
	Seat   *Seat      `json:"seat,omitempty"`
}

type Listing struct {
	ID             string         `json:"id"`
	SellerID       string         `json:"seller_id"`
	EventID        string         `json:"event_id"`
	EventDateID    string         `json:"event_date_id"`
	SeatingType    SeatingType    `json:"seating_type"`
	TicketType     TicketType     `json:"ticket_type"`
	DeliveryMethod DeliveryMethod `json:"delivery_method,omitempty"`
	Units          []TicketUnit   `json:"units"`
	SellTogether   bool           `json:"sell_together"`
	PricePerTicket Money          `json:"price_per_ticket"`
	Status         ListingStatus  `json:"status"`
	Version        int            `json:"version"` // optimistic locking
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// UnitSpec describes one explicitly listed unit. Seat is nil for
// unnumbered tickets.
type UnitSpec struct {
	Seat *Seat `json:"seat,omitempty"`
}

type NewListingParams struct {
	ID             string
	SellerID       string
	EventID        string
	EventDateID    string
	SeatingType    SeatingType
	TicketType     TicketType
	DeliveryMethod DeliveryMethod
	Quantity       int
	Units          []UnitSpec
	SellTogether   bool
	PricePerTicket Money
	// Approved is true when both the event and the event date are approved.
	Approved  bool
	NewUnitID func() string
	Now       time.Time
}

// ListingPatch carries the seller-editable fields. Identity and ownership
// fields are not patchable.
type ListingPatch struct {
	PricePerTicket *Money          `json:"price_per_ticket,omitempty"`
	SellTogether   *bool           `json:"sell_together,omitempty"`
	DeliveryMethod *DeliveryMethod `json:"delivery_method,omitempty"`
}

type UnitCounts struct {
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Sold      int `json:"sold"`
	Total     int `json:"total"`
}

func NewListing(p NewListingParams) (*Listing, error) {
	if p.SellerID == "" || p.EventID == "" || p.EventDateID == "" {
		return nil, fmt.Errorf("%w: seller, event and event date are required", ErrValidation)
	}
	price := NewMoney(p.PricePerTicket.Amount, p.PricePerTicket.Currency)
	if err := validatePrice(price); err != nil {
		return nil, err
	}
	policy, err := PolicyFor(p.TicketType)
	if err != nil {
		return nil, err
	}
	if err := policy.validateDelivery(p.DeliveryMethod); err != nil {
		return nil, err
	}
	if p.SeatingType != SeatingTypeNumbered && p.SeatingType != SeatingTypeUnnumbered {
		return nil, fmt.Errorf("%w: unknown seating type %q", ErrValidation, p.SeatingType)
	}

	units, err := buildUnits(p)
	if err != nil {
		return nil, err
	}

	status := ListingStatusPending
	if p.Approved {
		status = ListingStatusActive
	}

	return &Listing{
		ID:             p.ID,
		SellerID:       p.SellerID,
		EventID:        p.EventID,
		EventDateID:    p.EventDateID,
		SeatingType:    p.SeatingType,
		TicketType:     p.TicketType,
		DeliveryMethod: p.DeliveryMethod,
		Units:          units,
		SellTogether:   p.SellTogether,
		PricePerTicket: price,
		Status:         status,
		CreatedAt:      p.Now,
		UpdatedAt:      p.Now,
	}, nil
}

func buildUnits(p NewListingParams) ([]TicketUnit, error) {
	hasQuantity := p.Quantity != 0
	hasUnits := len(p.Units) > 0
	if hasQuantity == hasUnits {
		return nil, ErrUnitsSpec
	}

	if hasQuantity {
		if p.Quantity < 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
		if p.SeatingType != SeatingTypeUnnumbered {
			return nil, fmt.Errorf("%w: numbered listings need explicit seats", ErrSeatingMismatch)
		}
		units := make([]TicketUnit, p.Quantity)
		for i := range units {
			units[i] = TicketUnit{ID: p.NewUnitID(), Status: UnitStatusAvailable}
		}
		return units, nil
	}

	seated := 0
	for _, u := range p.Units {
		if u.Seat != nil {
			seated++
		}
	}
	if seated != 0 && seated != len(p.Units) {
		return nil, ErrMixedSeating
	}
	if (p.SeatingType == SeatingTypeNumbered) != (seated > 0) {
		return nil, ErrSeatingMismatch
	}

	seen := make(map[string]struct{}, len(p.Units))
	units := make([]TicketUnit, 0, len(p.Units))
	for _, u := range p.Units {
		unit := TicketUnit{ID: p.NewUnitID(), Status: UnitStatusAvailable}
		if u.Seat != nil {
			if strings.TrimSpace(u.Seat.Row) == "" || strings.TrimSpace(u.Seat.SeatNumber) == "" {
				return nil, fmt.Errorf("%w: seat row and number are required", ErrValidation)
			}
			k := u.Seat.key()
			if _, dup := seen[k]; dup {
				return nil, fmt.Errorf("%w: row %s seat %s", ErrDuplicateSeat, u.Seat.Row, u.Seat.SeatNumber)
			}
			seen[k] = struct{}{}
			seat := *u.Seat
			unit.Seat = &seat
		}
		units = append(units, unit)
	}
	return units, nil
}

func (l *Listing) Counts() UnitCounts {
	c := UnitCounts{Total: len(l.Units)}
	for _, u := range l.Units {
		switch u.Status {
		case UnitStatusAvailable:
			c.Available++
		case UnitStatusReserved:
			c.Reserved++
		case UnitStatusSold:
			c.Sold++
		}
	}
	return c
}

func (l *Listing) AvailableUnitIDs() []string {
	ids := make([]string, 0, len(l.Units))
	for _, u := range l.Units {
		if u.Status == UnitStatusAvailable {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

// resolve maps unit ids to indexes in l.Units, rejecting empty, duplicate
// and foreign ids.
func (l *Listing) resolve(unitIDs []string) ([]int, error) {
	if len(unitIDs) == 0 {
		return nil, ErrEmptySelection
	}
	index := make(map[string]int, len(l.Units))
	for i, u := range l.Units {
		index[u.ID] = i
	}
	seen := make(map[string]struct{}, len(unitIDs))
	idx := make([]int, 0, len(unitIDs))
	for _, id := range unitIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUnit, id)
		}
		seen[id] = struct{}{}
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, id)
		}
		idx = append(idx, i)
	}
	return idx, nil
}

// Reserve flips the requested units from available to reserved. Either
// every unit flips or none does.
func (l *Listing) Reserve(unitIDs []string, now time.Time) error {
	if l.Status != ListingStatusActive {
		return ErrListingNotActive
	}
	idx, err := l.resolve(unitIDs)
	if err != nil {
		return err
	}
	for _, i := range idx {
		if l.Units[i].Status != UnitStatusAvailable {
			return fmt.Errorf("%w: %s", ErrUnitUnavailable, l.Units[i].ID)
		}
	}
	// ids are distinct and all available, so equal size means equal set.
	if l.SellTogether && len(idx) != l.Counts().Available {
		return ErrSellTogether
	}

	for _, i := range idx {
		l.Units[i].Status = UnitStatusReserved
	}
	l.RecomputeStatus()
	l.UpdatedAt = now
	return nil
}

// Restore is the inverse of Reserve. Sold units are never touched.
func (l *Listing) Restore(unitIDs []string, now time.Time) error {
	return l.moveReserved(unitIDs, UnitStatusAvailable, now)
}

// MarkSold commits reserved units to their buyer.
func (l *Listing) MarkSold(unitIDs []string, now time.Time) error {
	return l.moveReserved(unitIDs, UnitStatusSold, now)
}

// CheckReserved fails unless every requested unit is reserved.
func (l *Listing) CheckReserved(unitIDs []string) error {
	_, err := l.reserved(unitIDs)
	return err
}

func (l *Listing) reserved(unitIDs []string) ([]int, error) {
	idx, err := l.resolve(unitIDs)
	if err != nil {
		return nil, err
	}
	for _, i := range idx {
		if l.Units[i].Status != UnitStatusReserved {
			return nil, fmt.Errorf("%w: %s", ErrUnitNotReserved, l.Units[i].ID)
		}
	}
	return idx, nil
}

func (l *Listing) moveReserved(unitIDs []string, to UnitStatus, now time.Time) error {
	idx, err := l.reserved(unitIDs)
	if err != nil {
		return err
	}
	for _, i := range idx {
		l.Units[i].Status = to
	}
	l.RecomputeStatus()
	l.UpdatedAt = now
	return nil
}

// RecomputeStatus derives active/sold from unit states. Pending and
// terminal listings keep their status.
func (l *Listing) RecomputeStatus() {
	if l.Status != ListingStatusActive && l.Status != ListingStatusSold {
		return
	}
	c := l.Counts()
	switch {
	case c.Available > 0:
		l.Status = ListingStatusActive
	case c.Reserved+c.Sold > 0:
		l.Status = ListingStatusSold
	}
}

// Activate moves a pending listing to active. It reports whether the
// listing changed.
func (l *Listing) Activate(now time.Time) bool {
	if l.Status != ListingStatusPending {
		return false
	}
	l.Status = ListingStatusActive
	l.RecomputeStatus()
	l.UpdatedAt = now
	return true
}

func (l *Listing) Cancel(sellerID string, now time.Time) error {
	if l.SellerID != sellerID {
		return ErrNotListingOwner
	}
	if l.Status != ListingStatusActive {
		return ErrListingNotActive
	}
	if l.Counts().Reserved > 0 {
		return ErrListingHasReservation
	}
	l.Status = ListingStatusCancelled
	l.UpdatedAt = now
	return nil
}

// Expire withdraws a pending or active listing whose event date is gone.
func (l *Listing) Expire(now time.Time) error {
	if l.Status != ListingStatusActive && l.Status != ListingStatusPending {
		return ErrListingNotActive
	}
	if l.Counts().Reserved > 0 {
		return ErrListingHasReservation
	}
	l.Status = ListingStatusExpired
	l.UpdatedAt = now
	return nil
}

// ApplyPatch merges seller edits. Only the owner may edit and only while
// the listing is active.
func (l *Listing) ApplyPatch(sellerID string, p ListingPatch, now time.Time) error {
	if l.SellerID != sellerID {
		return ErrNotListingOwner
	}
	if l.Status != ListingStatusActive {
		return ErrListingNotActive
	}

	next := *l
	if p.PricePerTicket != nil {
		price := NewMoney(p.PricePerTicket.Amount, p.PricePerTicket.Currency)
		if err := validatePrice(price); err != nil {
			return err
		}
		next.PricePerTicket = price
	}
	if p.SellTogether != nil {
		next.SellTogether = *p.SellTogether
	}
	if p.DeliveryMethod != nil {
		next.DeliveryMethod = *p.DeliveryMethod
	}
	policy, err := PolicyFor(next.TicketType)
	if err != nil {
		return err
	}
	if err := policy.validateDelivery(next.DeliveryMethod); err != nil {
		return err
	}

	l.PricePerTicket = next.PricePerTicket
	l.SellTogether = next.SellTogether
	l.DeliveryMethod = next.DeliveryMethod
	l.UpdatedAt = now
	return nil
}

func (l *Listing) Clone() *Listing {
	c := *l
	c.Units = make([]TicketUnit, len(l.Units))
	for i, u := range l.Units {
		c.Units[i] = u
		if u.Seat != nil {
			seat := *u.Seat
			c.Units[i].Seat = &seat
		}
	}
	return &c
}
