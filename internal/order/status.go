package order

import "strings"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

// Transitions is the forward-only lifecycle. It is only enforced when the
// service runs with strict transitions; the default policy accepts any known
// status.
var Transitions = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.Valid() {
		return "", &ValidationError{
			Field: "status",
			Msg:   "invalid order status " + quote(s) + ", want one of " + statusList(),
		}
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := Transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(Transitions[s]) == 0
}

func CanTransition(from, to Status) bool {
	return Transitions[from][to]
}

func statusList() string {
	names := make([]string, len(Statuses))
	for i, st := range Statuses {
		names[i] = string(st)
	}
	return strings.Join(names, ", ")
}

func quote(s string) string { return `"` + s + `"` }
