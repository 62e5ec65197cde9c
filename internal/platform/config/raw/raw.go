// Package raw reads env during bootstrap, before the logger exists.
// It must not import the logger
package raw

import (
	"os"
	"strconv"
	"strings"
)

// Conf is a prefixed env view, e.g. New().Prefix("LOG_")
type Conf struct{ prefix string }

// New returns a root Conf (no prefix)
func New() Conf { return Conf{} }

// Prefix returns a child Conf with an additional prefix
func (c Conf) Prefix(p string) Conf { return Conf{prefix: c.prefix + p} }

func (c Conf) value(k string) string { return strings.TrimSpace(os.Getenv(c.prefix + k)) }

// Get returns the trimmed env var or def when empty
func (c Conf) Get(key, def string) string {
	if v := c.value(key); v != "" {
		return v
	}
	return def
}

// GetBool accepts 1|true|yes (any case) as true; empty is def
func (c Conf) GetBool(key string, def bool) bool {
	switch v := strings.ToLower(c.value(key)); v {
	case "":
		return def
	case "yes":
		return true
	default:
		b, _ := strconv.ParseBool(v)
		return b
	}
}

// GetInt parses a non-negative integer; empty, signed or invalid input is def
func (c Conf) GetInt(key string, def int) int {
	v := c.value(key)
	n, err := strconv.ParseUint(v, 10, 31)
	if err != nil {
		return def
	}
	return int(n)
}
