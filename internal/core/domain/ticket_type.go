package domain

import (
	"fmt"
	"time"
)

type TicketType string

const (
	TicketTypePhysical               TicketType = "physical"
	TicketTypeDigitalTransferable    TicketType = "digital_transferable"
	TicketTypeDigitalNonTransferable TicketType = "digital_non_transferable"
)

type DeliveryMethod string

const (
	DeliveryMethodPickup  DeliveryMethod = "pickup"
	DeliveryMethodCourier DeliveryMethod = "courier"
)

// TicketPolicy describes how a ticket type is delivered and released.
type TicketPolicy struct {
	// AutoRelease releases escrow on a timer after the event starts
	// instead of waiting for the buyer to confirm receipt.
	AutoRelease bool
	// RequiresDeliveryMethod means the listing must name how the
	// physical ticket reaches the buyer.
	RequiresDeliveryMethod bool
}

var ticketPolicies = map[TicketType]TicketPolicy{
	TicketTypePhysical:               {RequiresDeliveryMethod: true},
	TicketTypeDigitalTransferable:    {},
	TicketTypeDigitalNonTransferable: {AutoRelease: true},
}

func PolicyFor(t TicketType) (TicketPolicy, error) {
	p, ok := ticketPolicies[t]
	if !ok {
		return TicketPolicy{}, fmt.Errorf("%w: %q", ErrUnknownTicketType, t)
	}
	return p, nil
}

// AutoReleaseAt returns nil for policies that wait for the buyer.
func (p TicketPolicy) AutoReleaseAt(startsAt time.Time, after time.Duration) *time.Time {
	if !p.AutoRelease {
		return nil
	}
	at := startsAt.Add(after).UTC()
	return &at
}

func (p TicketPolicy) validateDelivery(m DeliveryMethod) error {
	if !p.RequiresDeliveryMethod {
		return nil
	}
	switch m {
	case DeliveryMethodPickup, DeliveryMethodCourier:
		return nil
	case "":
		return ErrDeliveryRequired
	default:
		return fmt.Errorf("%w: unknown delivery method %q", ErrDeliveryRequired, m)
	}
}
