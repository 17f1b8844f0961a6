package core

import "strings"

// Matches reports whether tx passes every set field of the filter. Limit
// and Offset are applied by the caller.
func (f TransactionFilter) Matches(tx Transaction) bool {
	if f.Direction != "" && tx.Direction != f.Direction {
		return false
	}
	if f.Domain != "" && tx.Domain != f.Domain {
		return false
	}
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tx.Date.Before(f.To) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(tx.Title), q) &&
			!strings.Contains(strings.ToLower(tx.Description), q) {
			return false
		}
	}
	return true
}
