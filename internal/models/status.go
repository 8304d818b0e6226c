package models

type OrderStatus string

const (
	StatusPaymentPending OrderStatus = "payment_pending"
	StatusPending        OrderStatus = "pending"
	StatusProcessing     OrderStatus = "processing"
	StatusShipped        OrderStatus = "shipped"
	StatusCompleted      OrderStatus = "completed"
	StatusCancelled      OrderStatus = "cancelled"
	StatusReturned       OrderStatus = "returned"
)

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusReturned
}

// statusTransitions is the whitelist of legal transitions. The forward
// chain is payment_pending → pending → processing → shipped → completed;
// cancelled and returned are side-exits from any non-terminal state.
// Terminal states have no exits.
var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusPaymentPending: {StatusPending, StatusCancelled, StatusReturned},
	StatusPending:        {StatusProcessing, StatusCancelled, StatusReturned},
	StatusProcessing:     {StatusShipped, StatusCancelled, StatusReturned},
	StatusShipped:        {StatusCompleted, StatusCancelled, StatusReturned},
	StatusCompleted:      {},
	StatusCancelled:      {},
	StatusReturned:       {},
}

func ValidStatus(s OrderStatus) bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
