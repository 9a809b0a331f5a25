// Package ptr provides pointer helpers for tests.
package ptr

import "time"

// Int returns a pointer to the given int value.
func Int(v int) *int { return &v }

// Time returns a pointer to the given time.Time value.
func Time(v time.Time) *time.Time { return &v }
