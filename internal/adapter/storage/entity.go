package storage

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

// entityInfo tells the generic repositories how to read identity and
// version from a stored entity.
type entityInfo[T any] struct {
	name    string
	id      func(T) string
	version func(T) *int
	clone   func(T) T
}

var listingInfo = entityInfo[*domain.Listing]{
	name:    "listing",
	id:      func(l *domain.Listing) string { return l.ID },
	version: func(l *domain.Listing) *int { return &l.Version },
	clone:   (*domain.Listing).Clone,
}

var transactionInfo = entityInfo[*domain.Transaction]{
	name:    "transaction",
	id:      func(t *domain.Transaction) string { return t.ID },
	version: func(t *domain.Transaction) *int { return &t.Version },
	clone:   (*domain.Transaction).Clone,
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Keep sub-second precision on timestamps.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}
