package service

import (
	"strconv"
	"sync/atomic"
	"time"
)

// InvoiceGenerator issues "INV-<unix ms>" numbers that strictly increase within
// the process. Two calls in the same millisecond get consecutive values; the
// unique index on orders.invoice_number catches collisions across processes.
type InvoiceGenerator struct {
	last atomic.Int64
	now  func() time.Time
}

func NewInvoiceGenerator() *InvoiceGenerator {
	return &InvoiceGenerator{now: time.Now}
}

func (g *InvoiceGenerator) Next() string {
	for {
		last := g.last.Load()
		next := g.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if g.last.CompareAndSwap(last, next) {
			return "INV-" + strconv.FormatInt(next, 10)
		}
	}
}
