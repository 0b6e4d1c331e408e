package rest

import (
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
)

func registerProfileHandlers(r chi.Router) {
	r.Handle("/pprof/allocs", pprof.Handler("allocs"))
	r.Handle("/pprof/block", pprof.Handler("block"))
	r.Handle("/pprof/goroutine", pprof.Handler("goroutine"))
	r.Handle("/pprof/heap", pprof.Handler("heap"))
	r.Handle("/pprof/mutex", pprof.Handler("mutex"))
	r.Handle("/pprof/threadcreate", pprof.Handler("threadcreate"))
	r.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/pprof/profile", pprof.Profile)
	r.HandleFunc("/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/pprof/trace", pprof.Trace)
}
