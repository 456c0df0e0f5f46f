package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

var hundred = decimal.NewFromInt(100)

// CalculateFees prices a purchase of quantity units. Buyer and seller fees
// are independent percentages of the ticket price, rounded half away from
// zero to whole minor units.
func CalculateFees(pricePerTicket domain.Money, quantity int, buyerPct, sellerPct decimal.Decimal) (domain.FeeBreakdown, error) {
	if quantity <= 0 {
		return domain.FeeBreakdown{}, domain.ErrEmptySelection
	}
	for _, pct := range []decimal.Decimal{buyerPct, sellerPct} {
		if pct.IsNegative() || pct.GreaterThanOrEqual(hundred) {
			return domain.FeeBreakdown{}, fmt.Errorf("%w: fee percentage %s out of range", domain.ErrValidation, pct)
		}
	}

	ticketPrice := pricePerTicket.Mul(quantity)
	buyerFee := domain.Money{Amount: percentOf(ticketPrice.Amount, buyerPct), Currency: ticketPrice.Currency}
	sellerFee := domain.Money{Amount: percentOf(ticketPrice.Amount, sellerPct), Currency: ticketPrice.Currency}

	totalPaid, err := ticketPrice.Add(buyerFee)
	if err != nil {
		return domain.FeeBreakdown{}, err
	}
	sellerReceives, err := ticketPrice.Sub(sellerFee)
	if err != nil {
		return domain.FeeBreakdown{}, err
	}

	return domain.FeeBreakdown{
		TicketPrice:    ticketPrice,
		BuyerFee:       buyerFee,
		SellerFee:      sellerFee,
		TotalPaid:      totalPaid,
		SellerReceives: sellerReceives,
	}, nil
}

func percentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}
