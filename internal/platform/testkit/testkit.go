// Package testkit provides testing helpers
package testkit

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// MustPanic asserts that fn panics
func MustPanic(t *testing.T, fn func()) {
	t.Helper()
	if recovered(fn) == nil {
		t.Fatalf("expected panic, got none")
	}
}

// MustNotPanic asserts that fn does not panic
func MustNotPanic(t *testing.T, fn func()) {
	t.Helper()
	if r := recovered(fn); r != nil {
		t.Fatalf("unexpected panic: %v", r)
	}
}

func recovered(fn func()) (r any) {
	defer func() { r = recover() }()
	fn()
	return nil
}

// MustContain asserts that haystack contains needle, long output is tailed
func MustContain(t *testing.T, haystack, needle string) {
	t.Helper()
	if strings.Contains(haystack, needle) {
		return
	}
	const tail = 2048
	if len(haystack) > tail {
		haystack = "..." + haystack[len(haystack)-tail:]
	}
	t.Fatalf("expected output to contain %q\n\n%s", needle, haystack)
}

// Eventually polls cond every tick until it returns true or wait elapses
func Eventually(t *testing.T, wait, tick time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s: %s", wait, msg)
		}
		time.Sleep(tick)
	}
}

var seamMu sync.Mutex

// Swap replaces a package-level seam for the duration of the test
func Swap[T any](t *testing.T, target *T, replacement T) {
	t.Helper()
	orig := *target
	*target = replacement
	t.Cleanup(func() { *target = orig })
}

// Serial holds a global lock until the test ends; use it with Swap
func Serial(t *testing.T) {
	t.Helper()
	seamMu.Lock()
	t.Cleanup(seamMu.Unlock)
}
