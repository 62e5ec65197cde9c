// Package http wraps chi with the probe server and its JSON envelope
package http

import (
	"encoding/json"
	stdhttp "net/http"

	perr "ghdiscover/internal/platform/errors"
	pnet "ghdiscover/internal/platform/net"
)

// Envelope is the body of every JSON response
type Envelope struct {
	StatusCode int            `json:"status_code"`
	Status     string         `json:"status"`
	Code       perr.ErrorCode `json:"code,omitempty"`
	Error      string         `json:"error,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Data       any            `json:"data,omitempty"`
}

// JSON writes v as application/json with the given status
func JSON(w stdhttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Response is what return-style handlers produce. An error Body sets the
// status from its perr code, a zero Status is 200
type Response struct {
	Status int
	Body   any
	Header stdhttp.Header
}

func OK(data any) Response                     { return Response{Status: stdhttp.StatusOK, Body: data} }
func WithStatus(status int, data any) Response { return Response{Status: status, Body: data} }
func Error(err error) Response                 { return Response{Body: err} }

// Handle adapts a Response-returning handler to net/http
func Handle(h func(r *stdhttp.Request) Response) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		resp := h(r)
		for k, vv := range resp.Header {
			for _, v := range vv {
				w.Header().Add(k, v)
			}
		}
		if resp.Status == stdhttp.StatusNoContent {
			w.WriteHeader(stdhttp.StatusNoContent)
			return
		}
		env := resp.envelope()
		env.RequestID = pnet.RequestID(r.Context())
		JSON(w, env.StatusCode, env)
	}
}

func (resp Response) envelope() Envelope {
	if err, ok := resp.Body.(error); ok && err != nil {
		wire := perr.WireFrom(err)
		status := perr.HTTPStatus(err)
		return Envelope{StatusCode: status, Status: stdhttp.StatusText(status), Code: wire.Code, Error: wire.Message}
	}
	status := resp.Status
	if status == 0 {
		status = stdhttp.StatusOK
	}
	return Envelope{StatusCode: status, Status: stdhttp.StatusText(status), Data: resp.Body}
}
