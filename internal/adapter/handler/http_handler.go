package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/ticket-escrow/internal/adapter/catalog"
	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/core/service"
)

// UserIDHeader carries the authenticated caller. Authentication itself
// happens in front of this service.
const UserIDHeader = "X-User-ID"

const userIDKey = "user_id"

type HTTPHandler struct {
	listings  *service.ListingService
	escrow    *service.EscrowService
	approvals catalog.ApprovalHandler
	logger    *slog.Logger

	events EventStore
}

// EventStore accepts event definitions when the catalog is local.
type EventStore interface {
	Put(e *domain.Event)
}

type PurchaseHTTPRequest struct {
	ListingID string   `json:"listing_id"`
	UnitIDs   []string `json:"unit_ids"`
}

type DisputeHTTPRequest struct {
	DisputeID string `json:"dispute_id"`
}

type ErrorHTTPResponse struct {
	Error string `json:"error"`
}

type CountHTTPResponse struct {
	Count int `json:"count"`
}

// NewHTTPHandler builds the HTTP API. approvals receives notices posted to
// /internal/approvals; nil uses the listing service directly.
func NewHTTPHandler(listings *service.ListingService, escrow *service.EscrowService, approvals catalog.ApprovalHandler, logger *slog.Logger) *HTTPHandler {
	if approvals == nil {
		approvals = listings
	}
	return &HTTPHandler{listings: listings, escrow: escrow, approvals: approvals, logger: logger}
}

// WithEventStore exposes PUT /internal/events/:id for seeding a local catalog.
func (h *HTTPHandler) WithEventStore(s EventStore) *HTTPHandler {
	h.events = s
	return h
}

func (h *HTTPHandler) Register(e *echo.Echo) {
	e.GET("/health", h.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api", requireUser)
	api.POST("/listings", h.CreateListing)
	api.GET("/listings/:id", h.GetListing)
	api.PATCH("/listings/:id", h.UpdateListing)
	api.POST("/listings/:id/cancel", h.CancelListing)
	api.GET("/events/:id/listings", h.ListListingsByEvent)

	api.POST("/transactions", h.Purchase)
	api.GET("/transactions", h.ListTransactions)
	api.GET("/transactions/:id", h.GetTransaction)
	api.POST("/transactions/:id/transfer", h.ConfirmTransfer)
	api.POST("/transactions/:id/receipt", h.ConfirmReceipt)
	api.POST("/transactions/:id/cancel", h.CancelTransaction)

	// Called by the payment provider, dispute desk and operators.
	internal := e.Group("/internal")
	internal.POST("/transactions/:id/payment-received", h.PaymentReceived)
	internal.POST("/transactions/:id/dispute", h.MarkDisputed)
	internal.POST("/transactions/:id/refund", h.Refund)
	internal.POST("/approvals", h.Approval)
	internal.POST("/sweeps", h.Sweep)
	if h.events != nil {
		internal.PUT("/events/:id", h.PutEvent)
	}
}

func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(UserIDHeader)
		if id == "" {
			return c.JSON(http.StatusUnauthorized, ErrorHTTPResponse{Error: "missing " + UserIDHeader})
		}
		c.Set(userIDKey, id)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func (h *HTTPHandler) fail(c echo.Context, err error) error {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		return c.JSON(status, ErrorHTTPResponse{Error: internalMessage})
	}
	return c.JSON(status, ErrorHTTPResponse{Error: err.Error()})
}

func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
}

func (h *HTTPHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CreateListing lists tickets for the calling seller.
func (h *HTTPHandler) CreateListing(c echo.Context) error {
	var req service.CreateListingRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	req.SellerID = userID(c)

	l, err := h.listings.CreateListing(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *HTTPHandler) GetListing(c echo.Context) error {
	l, err := h.listings.GetListing(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *HTTPHandler) ListListingsByEvent(c echo.Context) error {
	ls, err := h.listings.ListListingsByEvent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, ls)
}

func (h *HTTPHandler) UpdateListing(c echo.Context) error {
	var patch domain.ListingPatch
	if err := c.Bind(&patch); err != nil {
		return badBody(c)
	}
	l, err := h.listings.UpdateListing(c.Request().Context(), c.Param("id"), userID(c), patch)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *HTTPHandler) CancelListing(c echo.Context) error {
	l, err := h.listings.CancelListing(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *HTTPHandler) Purchase(c echo.Context) error {
	var req PurchaseHTTPRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	if req.ListingID == "" {
		return c.JSON(http.StatusBadRequest, ErrorHTTPResponse{Error: "missing required fields"})
	}

	t, err := h.escrow.InitiatePurchase(c.Request().Context(), userID(c), req.ListingID, req.UnitIDs)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *HTTPHandler) ListTransactions(c echo.Context) error {
	ts, err := h.escrow.ListTransactionsByUser(c.Request().Context(), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, ts)
}

// GetTransaction is visible to the buyer and the seller only.
func (h *HTTPHandler) GetTransaction(c echo.Context) error {
	t, err := h.escrow.GetTransaction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if u := userID(c); u != t.BuyerID && u != t.SellerID {
		return h.fail(c, domain.ErrForbidden)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *HTTPHandler) ConfirmTransfer(c echo.Context) error {
	t, err := h.escrow.ConfirmTransfer(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *HTTPHandler) ConfirmReceipt(c echo.Context) error {
	t, err := h.escrow.ConfirmReceipt(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *HTTPHandler) CancelTransaction(c echo.Context) error {
	t, err := h.escrow.CancelTransaction(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *HTTPHandler) PaymentReceived(c echo.Context) error {
	t, err := h.escrow.HandlePaymentReceived(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *HTTPHandler) MarkDisputed(c echo.Context) error {
	var req DisputeHTTPRequest
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	t, err := h.escrow.MarkDisputed(c.Request().Context(), c.Param("id"), req.DisputeID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *HTTPHandler) Refund(c echo.Context) error {
	t, err := h.escrow.RefundTransaction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *HTTPHandler) Approval(c echo.Context) error {
	var n domain.ApprovalNotice
	if err := c.Bind(&n); err != nil {
		return badBody(c)
	}
	if err := n.Validate(); err != nil {
		return h.fail(c, err)
	}
	count, err := h.approvals.HandleApproval(c.Request().Context(), n)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, CountHTTPResponse{Count: count})
}

// Sweep runs one auto-release pass on demand.
func (h *HTTPHandler) Sweep(c echo.Context) error {
	report, err := h.escrow.ProcessAutoReleases(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *HTTPHandler) PutEvent(c echo.Context) error {
	var ev domain.Event
	if err := c.Bind(&ev); err != nil {
		return badBody(c)
	}
	ev.ID = c.Param("id")
	h.events.Put(&ev)
	return c.JSON(http.StatusOK, ev)
}
