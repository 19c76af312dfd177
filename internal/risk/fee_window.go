package risk

import "github.com/shopspring/decimal"

// DefaultFeeWindowSize is the number of recent fees averaged per pool.
const DefaultFeeWindowSize = 64

// FeeWindow keeps a rolling average over the last N accepted fees.
// Not safe for concurrent use; the owning pool guards it.
type FeeWindow struct {
	fees []decimal.Decimal
	next int
	full bool
	sum  decimal.Decimal
}

// NewFeeWindow creates a window of the given size.
func NewFeeWindow(size int) *FeeWindow {
	if size <= 0 {
		size = DefaultFeeWindowSize
	}
	return &FeeWindow{fees: make([]decimal.Decimal, size)}
}

// Add records a fee, evicting the oldest when full.
func (w *FeeWindow) Add(fee decimal.Decimal) {
	if w.full {
		w.sum = w.sum.Sub(w.fees[w.next])
	}
	w.fees[w.next] = fee
	w.sum = w.sum.Add(fee)
	w.next++
	if w.next == len(w.fees) {
		w.next = 0
		w.full = true
	}
}

// Len returns the number of fees in the window.
func (w *FeeWindow) Len() int {
	if w.full {
		return len(w.fees)
	}
	return w.next
}

// Average returns the mean fee, zero when empty.
func (w *FeeWindow) Average() decimal.Decimal {
	n := w.Len()
	if n == 0 {
		return decimal.Zero
	}
	return w.sum.Div(decimal.NewFromInt(int64(n)))
}
