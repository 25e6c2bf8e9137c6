package trade

import "strings"

// Optional distinguishes a tag that was absent from one that was present but empty
type Optional[T any] struct {
	Value   T
	Present bool
}

// Some wraps a present value
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Present: true}
}

// OptionalString is the form every field of a parsed 1C document arrives in
type OptionalString = Optional[string]

// IsEmpty reports a tag that was present with a blank value
func IsEmpty(o OptionalString) bool {
	return o.Present && strings.TrimSpace(o.Value) == ""
}

// OrderUpdateData is one order's changes from a 1C orders document
type OrderUpdateData struct {
	DocumentID  string
	Number      string
	Status      OptionalString
	Paid        OptionalString
	PaidDate    OptionalString
	ShippedDate OptionalString
}

// Reference returns the best identifier for log lines
func (d OrderUpdateData) Reference() string {
	if d.DocumentID != "" {
		return d.DocumentID
	}
	return d.Number
}
