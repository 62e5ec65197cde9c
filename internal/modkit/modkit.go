package modkit

import phttp "ghdiscover/internal/platform/net/http"

// Module is what cmd wires: a named unit that exposes its ports and can
// mount probe routes
type Module interface {
	Name() string
	Ports() any
	MountRoutes(r phttp.Router)
}
