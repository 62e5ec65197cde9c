// Package modkit provides module wiring and core deps
package modkit

import (
	"ghdiscover/internal/modkit/repokit"
	"ghdiscover/internal/platform/config"
	"ghdiscover/internal/platform/logger"
	"ghdiscover/internal/platform/metrics"
	"ghdiscover/internal/platform/store"
)

// Deps holds core dependencies passed to modules
// this is wiring only and does not introduce new abstractions
type Deps struct {
	Log     logger.Logger
	Cfg     config.Conf
	PG      repokit.TxRunner // nil when postgres is disabled
	CH      store.Clickhouse // nil when clickhouse is disabled
	Metrics *metrics.Metrics // nil -> the module builds its own registry
}

// FromStore copies the enabled backends of st into deps
func FromStore(cfg config.Conf, st *store.Store) Deps {
	d := Deps{Cfg: cfg}
	if st != nil {
		d.Log = st.Log
		d.PG = st.PG
		d.CH = st.CH
	}
	return d
}
