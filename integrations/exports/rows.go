package exports

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"

	"hedgeline/native/perpetual"
)

// Quoter prices a position against a collateral rate.
type Quoter interface {
	GetCashOutAmount(id uint64, rate *big.Int) (perpetual.CashOutQuote, error)
}

// Row is the flattened view of a single position used by every export format.
type Row struct {
	ID                 uint64
	Owner              string
	Approved           string
	Margin             string
	Committed          string
	EntryRate          string
	EntryTimestamp     uint64
	CreatedAt          uint64
	Leverage           uint64
	MarkRate           string
	CashOut            string
	ReachedMaintenance bool
	AsOf               time.Time
}

// BuildRows snapshots the supplied positions. When quoter and rate are both
// set every row also carries the cash-out value at that rate.
func BuildRows(positions []*perpetual.Perpetual, quoter Quoter, rate *big.Int, asOf time.Time) ([]Row, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	asOf = asOf.UTC()
	priced := quoter != nil && rate != nil && rate.Sign() > 0
	rows := make([]Row, 0, len(positions))
	for _, p := range positions {
		if p == nil {
			continue
		}
		row := Row{
			ID:             p.ID,
			Owner:          strings.ToLower(p.Owner.Hex()),
			Margin:         amount(p.Margin),
			Committed:      amount(p.Committed),
			EntryRate:      amount(p.EntryRate),
			EntryTimestamp: p.EntryTimestamp,
			CreatedAt:      p.CreatedAt,
			Leverage:       p.Leverage(),
			AsOf:           asOf,
		}
		if p.Approved != (ethcommon.Address{}) {
			row.Approved = strings.ToLower(p.Approved.Hex())
		}
		if priced {
			quote, err := quoter.GetCashOutAmount(p.ID, rate)
			if err != nil {
				return nil, fmt.Errorf("quote perpetual %d: %w", p.ID, err)
			}
			row.MarkRate = rate.String()
			row.CashOut = amount(quote.CashOut)
			row.ReachedMaintenance = quote.ReachedMaintenance
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Checksum returns the hex encoded BLAKE3-256 digest of an export payload.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}
