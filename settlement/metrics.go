package settlement

import "sync/atomic"

type Counters struct {
	PaymentsCreated  atomic.Uint64
	PaymentsReceived atomic.Uint64
	PaymentsSettled  atomic.Uint64
	PaymentsFailed   atomic.Uint64
	Executions       atomic.Uint64
	NotificationsOut atomic.Uint64
}

// Snapshot returns the counters as a plain map for health output
func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"payments_created":  c.PaymentsCreated.Load(),
		"payments_received": c.PaymentsReceived.Load(),
		"payments_settled":  c.PaymentsSettled.Load(),
		"payments_failed":   c.PaymentsFailed.Load(),
		"executions":        c.Executions.Load(),
		"notifications_out": c.NotificationsOut.Load(),
	}
}
