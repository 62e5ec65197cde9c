// Package health serves the liveness, readiness and progress probes of the scraper
package health

import (
	"context"
	"net/http"
	"time"

	"ghdiscover/internal/core/version"
	phttp "ghdiscover/internal/platform/net/http"
)

// Pinger is satisfied by adapters that expose Ping
type Pinger interface {
	Ping(context.Context) error
}

// Beater reports driver liveness
type Beater interface {
	Last() time.Time
	Fresh(now time.Time) bool
}

// Deps are the handler dependencies. Nil fields are skipped
type Deps struct {
	ServiceName string
	StartedAt   time.Time
	Heartbeat   Beater
	Progress    func() any // e.g. service.Driver.Snapshot
	PG          any
	CH          any
	Metrics     http.Handler
}

type handlers struct {
	deps Deps
	now  func() time.Time
}

// Register mounts /meta/* and /metrics
func Register(r phttp.Router, d Deps) {
	h := &handlers{deps: d, now: time.Now}

	r.Route("/meta", func(r phttp.Router) {
		phttp.GetResponse(r, "/health", h.health)
		phttp.GetResponse(r, "/ready", h.ready)
		phttp.GetJSON(r, "/version", h.version)
		phttp.GetJSON(r, "/service", h.service)
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
}

// HealthResponse is the liveness payload
type HealthResponse struct {
	OK        bool   `json:"ok"`
	Service   string `json:"service"`
	Started   string `json:"started"`
	Heartbeat string `json:"heartbeat,omitempty"`
	Now       string `json:"now"`
}

// ReadyCheck describes a single dependency check
type ReadyCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // ok fail skipped unknown
	Error  string `json:"error,omitempty"`
}

// ReadyResponse summarizes readiness
type ReadyResponse struct {
	Status string       `json:"status"` // ok degraded fail
	Checks []ReadyCheck `json:"checks"`
	Now    string       `json:"now"`
}

// ServiceResponse describes the process and, when wired, pipeline progress
type ServiceResponse struct {
	Name     string `json:"name"`
	Started  string `json:"started"`
	Uptime   int64  `json:"uptime"`
	Progress any    `json:"progress,omitempty"`
}

// health is 503 once the heartbeat goes stale
func (h *handlers) health(_ *http.Request) phttp.Response {
	now := h.now()
	out := HealthResponse{
		OK:      true,
		Service: h.deps.ServiceName,
		Started: h.deps.StartedAt.UTC().Format(time.RFC3339),
		Now:     now.UTC().Format(time.RFC3339),
	}
	if hb := h.deps.Heartbeat; hb != nil {
		if last := hb.Last(); !last.IsZero() {
			out.Heartbeat = last.UTC().Format(time.RFC3339Nano)
		}
		if !hb.Fresh(now) {
			out.OK = false
			return phttp.WithStatus(http.StatusServiceUnavailable, out)
		}
	}
	return phttp.OK(out)
}

func (h *handlers) ready(r *http.Request) phttp.Response {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	check := func(name string, c any) ReadyCheck {
		if c == nil {
			return ReadyCheck{Name: name, Status: "skipped"}
		}
		if p, ok := c.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return ReadyCheck{Name: name, Status: "fail", Error: err.Error()}
			}
			return ReadyCheck{Name: name, Status: "ok"}
		}
		return ReadyCheck{Name: name, Status: "unknown"}
	}

	checks := []ReadyCheck{check("pg", h.deps.PG), check("ch", h.deps.CH)}
	overall := "ok"
	for _, c := range checks {
		switch c.Status {
		case "fail":
			overall = "fail"
		case "unknown":
			if overall == "ok" {
				overall = "degraded"
			}
		}
	}

	out := ReadyResponse{Status: overall, Checks: checks, Now: h.now().UTC().Format(time.RFC3339)}
	if overall == "fail" {
		return phttp.WithStatus(http.StatusServiceUnavailable, out)
	}
	return phttp.OK(out)
}

func (h *handlers) version(_ *http.Request) (any, error) {
	return version.Info(), nil
}

func (h *handlers) service(_ *http.Request) (any, error) {
	out := ServiceResponse{
		Name:    h.deps.ServiceName,
		Started: h.deps.StartedAt.UTC().Format(time.RFC3339),
		Uptime:  int64(h.now().Sub(h.deps.StartedAt) / time.Second),
	}
	if h.deps.Progress != nil {
		out.Progress = h.deps.Progress()
	}
	return out, nil
}
