// Package time holds small time helpers
package time

import "time"

// Ptr returns &t, or nil for the zero time so JSON omits it
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
