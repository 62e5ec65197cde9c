package ch

import (
	"cmp"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// BuildClientInfo tags queries in system.query_log with the binary, its role
// (e.g. "scrape") and where it runs
func BuildClientInfo(role, tag string) clickhouse.ClientInfo {
	host, _ := os.Hostname()
	info := clickhouse.ClientInfo{}
	for _, p := range [][2]string{
		{"ghdiscover", tag},
		{"role", role},
		{"go", runtime.Version()},
		{"commit", revision()},
		{"host", host},
	} {
		info.Products = append(info.Products, struct{ Name, Version string }{p[0], orUnknown(p[1])})
	}
	return info
}

func revision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}

func orUnknown(s string) string { return cmp.Or(strings.TrimSpace(s), "unknown") }
