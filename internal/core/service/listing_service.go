package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/ticket-escrow/internal/clock"
	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/metrics"
	"github.com/rl1809/ticket-escrow/internal/port"
)

// ListingService owns ticket unit state per listing. Every mutation runs
// as one locked read-modify-write on the listing.
type ListingService struct {
	repo    port.ListingRepository
	catalog port.EventCatalog
	locker  port.Locker
	clock   clock.Clock
	logger  *slog.Logger
	newID   func() string
}

func NewListingService(
	repo port.ListingRepository,
	catalog port.EventCatalog,
	locker port.Locker,
	clk clock.Clock,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		repo:    repo,
		catalog: catalog,
		locker:  locker,
		clock:   clk,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

type CreateListingRequest struct {
	SellerID       string                `json:"seller_id"`
	EventID        string                `json:"event_id"`
	EventDateID    string                `json:"event_date_id"`
	SeatingType    domain.SeatingType    `json:"seating_type"`
	TicketType     domain.TicketType     `json:"ticket_type"`
	DeliveryMethod domain.DeliveryMethod `json:"delivery_method,omitempty"`
	Quantity       int                   `json:"quantity,omitempty"`
	Units          []domain.UnitSpec     `json:"units,omitempty"`
	SellTogether   bool                  `json:"sell_together"`
	PricePerTicket domain.Money          `json:"price_per_ticket"`
}

func listingLockKey(id string) string { return "listing:" + id }

func (s *ListingService) CreateListing(ctx context.Context, req CreateListingRequest) (*domain.Listing, error) {
	event, err := s.catalog.GetEventByID(ctx, req.EventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}
	if _, ok := event.Date(req.EventDateID); !ok {
		return nil, domain.ErrUnknownEventDate
	}

	listing, err := domain.NewListing(domain.NewListingParams{
		ID:             s.newID(),
		SellerID:       req.SellerID,
		EventID:        req.EventID,
		EventDateID:    req.EventDateID,
		SeatingType:    req.SeatingType,
		TicketType:     req.TicketType,
		DeliveryMethod: req.DeliveryMethod,
		Quantity:       req.Quantity,
		Units:          req.Units,
		SellTogether:   req.SellTogether,
		PricePerTicket: req.PricePerTicket,
		Approved:       event.Approved(req.EventDateID),
		NewUnitID:      s.newID,
		Now:            s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.Set(ctx, listing); err != nil {
		return nil, fmt.Errorf("save listing: %w", err)
	}

	s.logger.Info("listing created",
		"listing_id", listing.ID,
		"seller_id", listing.SellerID,
		"event_id", listing.EventID,
		"units", len(listing.Units),
		"status", listing.Status,
	)
	return listing, nil
}

func (s *ListingService) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	if l == nil {
		return nil, domain.ErrListingNotFound
	}
	return l, nil
}

func (s *ListingService) ListListingsByEvent(ctx context.Context, eventID string) ([]*domain.Listing, error) {
	return s.filter(ctx, func(l *domain.Listing) bool { return l.EventID == eventID })
}

func (s *ListingService) filter(ctx context.Context, keep func(*domain.Listing) bool) ([]*domain.Listing, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	res := make([]*domain.Listing, 0, len(all))
	for _, l := range all {
		if keep(l) {
			res = append(res, l)
		}
	}
	return res, nil
}

// mutate loads the listing under its lock, applies fn and saves. When fn
// fails nothing is written.
func (s *ListingService) mutate(ctx context.Context, id string, fn func(l *domain.Listing, now time.Time) error) (*domain.Listing, error) {
	release, err := s.locker.Lock(ctx, listingLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock listing: %w", err)
	}
	defer release()

	l, err := s.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(l, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Set(ctx, l); err != nil {
		return nil, fmt.Errorf("save listing: %w", err)
	}
	return l, nil
}

func (s *ListingService) ReserveUnits(ctx context.Context, listingID string, unitIDs []string) (*domain.Listing, error) {
	l, err := s.mutate(ctx, listingID, func(l *domain.Listing, now time.Time) error {
		return l.Reserve(unitIDs, now)
	})
	metrics.TrackUnitOperation("reserve", err)
	return l, err
}

func (s *ListingService) RestoreUnits(ctx context.Context, listingID string, unitIDs []string) (*domain.Listing, error) {
	l, err := s.mutate(ctx, listingID, func(l *domain.Listing, now time.Time) error {
		return l.Restore(unitIDs, now)
	})
	metrics.TrackUnitOperation("restore", err)
	return l, err
}

func (s *ListingService) MarkUnitsSold(ctx context.Context, listingID string, unitIDs []string) (*domain.Listing, error) {
	l, err := s.mutate(ctx, listingID, func(l *domain.Listing, now time.Time) error {
		return l.MarkSold(unitIDs, now)
	})
	metrics.TrackUnitOperation("mark_sold", err)
	return l, err
}

func (s *ListingService) UpdateListing(ctx context.Context, listingID, sellerID string, patch domain.ListingPatch) (*domain.Listing, error) {
	return s.mutate(ctx, listingID, func(l *domain.Listing, now time.Time) error {
		return l.ApplyPatch(sellerID, patch, now)
	})
}

func (s *ListingService) CancelListing(ctx context.Context, listingID, sellerID string) (*domain.Listing, error) {
	l, err := s.mutate(ctx, listingID, func(l *domain.Listing, now time.Time) error {
		return l.Cancel(sellerID, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("listing cancelled", "listing_id", l.ID, "seller_id", sellerID)
	return l, nil
}

// ActivatePendingListingsForEvent is called by the approval subsystem once
// an event is approved. Listings whose date is still unapproved stay pending.
func (s *ListingService) ActivatePendingListingsForEvent(ctx context.Context, eventID string) (int, error) {
	pending, err := s.filter(ctx, func(l *domain.Listing) bool {
		return l.Status == domain.ListingStatusPending && l.EventID == eventID
	})
	if err != nil {
		return 0, err
	}
	return s.activate(ctx, pending)
}

// ActivatePendingListingsForEventDate is called once a single event date is approved.
func (s *ListingService) ActivatePendingListingsForEventDate(ctx context.Context, dateID string) (int, error) {
	pending, err := s.filter(ctx, func(l *domain.Listing) bool {
		return l.Status == domain.ListingStatusPending && l.EventDateID == dateID
	})
	if err != nil {
		return 0, err
	}
	return s.activate(ctx, pending)
}

func (s *ListingService) activate(ctx context.Context, pending []*domain.Listing) (int, error) {
	if len(pending) == 0 {
		return 0, nil
	}

	events := make(map[string]*domain.Event)
	var errs []error
	activated := 0
	for _, candidate := range pending {
		event, ok := events[candidate.EventID]
		if !ok {
			e, err := s.catalog.GetEventByID(ctx, candidate.EventID)
			if err != nil {
				errs = append(errs, fmt.Errorf("get event %s: %w", candidate.EventID, err))
				continue
			}
			events[candidate.EventID] = e
			event = e
		}
		if event == nil || !event.Approved(candidate.EventDateID) {
			continue
		}

		changed := false
		_, err := s.mutate(ctx, candidate.ID, func(l *domain.Listing, now time.Time) error {
			changed = l.Activate(now)
			if !changed {
				return errUnchanged
			}
			return nil
		})
		if errors.Is(err, errUnchanged) {
			continue
		}
		if err != nil {
			s.logger.Error("failed to activate listing", "listing_id", candidate.ID, "error", err)
			errs = append(errs, fmt.Errorf("activate listing %s: %w", candidate.ID, err))
			continue
		}
		activated++
	}

	if activated > 0 {
		metrics.TrackActivations(activated)
		s.logger.Info("pending listings activated", "count", activated)
	}
	return activated, errors.Join(errs...)
}

// ExpireListingsForEventDate withdraws open listings of a cancelled or past
// event date. Listings with reserved units are left for their transactions
// to settle.
func (s *ListingService) ExpireListingsForEventDate(ctx context.Context, dateID string) (int, error) {
	open, err := s.filter(ctx, func(l *domain.Listing) bool {
		return l.EventDateID == dateID &&
			(l.Status == domain.ListingStatusActive || l.Status == domain.ListingStatusPending)
	})
	if err != nil {
		return 0, err
	}

	var errs []error
	expired := 0
	for _, candidate := range open {
		_, err := s.mutate(ctx, candidate.ID, func(l *domain.Listing, now time.Time) error {
			return l.Expire(now)
		})
		switch {
		case errors.Is(err, domain.ErrListingHasReservation):
			s.logger.Warn("listing not expired, has reservations", "listing_id", candidate.ID)
		case errors.Is(err, domain.ErrListingNotActive):
		case err != nil:
			errs = append(errs, fmt.Errorf("expire listing %s: %w", candidate.ID, err))
		default:
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("listings expired", "event_date_id", dateID, "count", expired)
	}
	return expired, errors.Join(errs...)
}

// HandleApproval reacts to a status change from the approval subsystem.
// Approvals activate pending listings; rejections and cancellations expire
// the open listings they cover. It returns the number of listings changed.
func (s *ListingService) HandleApproval(ctx context.Context, n domain.ApprovalNotice) (int, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}

	switch n.Status {
	case domain.ApprovalStatusApproved:
		if n.Kind == domain.ApprovalKindEvent {
			return s.ActivatePendingListingsForEvent(ctx, n.EventID)
		}
		return s.ActivatePendingListingsForEventDate(ctx, n.DateID)

	case domain.ApprovalStatusRejected, domain.ApprovalStatusCancelled:
		if n.Kind == domain.ApprovalKindDate {
			return s.ExpireListingsForEventDate(ctx, n.DateID)
		}
		event, err := s.catalog.GetEventByID(ctx, n.EventID)
		if err != nil {
			return 0, fmt.Errorf("get event: %w", err)
		}
		if event == nil {
			return 0, domain.ErrEventNotFound
		}
		total := 0
		var errs []error
		for _, d := range event.Dates {
			expired, err := s.ExpireListingsForEventDate(ctx, d.ID)
			total += expired
			if err != nil {
				errs = append(errs, err)
			}
		}
		return total, errors.Join(errs...)
	}
	return 0, nil
}

var errUnchanged = errors.New("listing unchanged")
