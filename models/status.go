package models

// PaymentStatus is the lifecycle state of a payment
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusReceived   PaymentStatus = "received"
	StatusConverting PaymentStatus = "converting"
	StatusSettled    PaymentStatus = "settled"
	StatusFailed     PaymentStatus = "failed"
)

var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:    {StatusReceived, StatusFailed},
	StatusReceived:   {StatusConverting, StatusFailed},
	StatusConverting: {StatusSettled, StatusFailed},
}

// Valid reports whether s is one of the defined lifecycle states
func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReceived, StatusConverting, StatusSettled, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are accepted from s
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// CanTransition reports whether from -> to is an edge of the payment state machine
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
