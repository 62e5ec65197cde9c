package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler is the platform handler type used everywhere
type Handler = func(http.ResponseWriter, *http.Request)

// Router is what modules mount probes and telemetry against
type Router interface {
	Get(path string, h Handler)
	Handle(path string, h http.Handler)
	Route(pattern string, fn func(Router))
}

type chiRouter struct{ r chi.Router }

// AdaptChi adapts a chi router (root mux or sub router) to a Router
func AdaptChi(r chi.Router) Router { return chiRouter{r: r} }

func (c chiRouter) Get(p string, h Handler)         { c.r.Method(http.MethodGet, p, http.HandlerFunc(h)) }
func (c chiRouter) Handle(p string, h http.Handler) { c.r.Handle(p, h) }

func (c chiRouter) Route(pattern string, fn func(Router)) {
	c.r.Route(pattern, func(sub chi.Router) { fn(chiRouter{r: sub}) })
}

// GetJSON mounts fn under GET, a nil error is 200 with the value as data
func GetJSON(r Router, path string, fn func(*http.Request) (any, error)) {
	GetResponse(r, path, func(req *http.Request) Response {
		out, err := fn(req)
		if err != nil {
			return Error(err)
		}
		return OK(out)
	})
}

// GetResponse mounts a return-style handler for GET
func GetResponse(r Router, path string, h func(*http.Request) Response) {
	r.Get(path, Handle(h))
}
