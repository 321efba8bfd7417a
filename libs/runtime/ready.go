package runtime

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// Readiness evaluates ReadyChecks and reports not-ready once draining has begun.
type Readiness struct {
	checks   []ReadyCheck
	timeout  time.Duration
	draining atomic.Bool
}

func NewReadiness(checks ...ReadyCheck) *Readiness {
	return &Readiness{checks: checks, timeout: 2 * time.Second}
}

// Drain makes every later evaluation fail so load balancers stop routing before shutdown.
func (r *Readiness) Drain() {
	r.draining.Store(true)
}

// Failures runs every check and returns one "name: err" entry per failing dependency.
func (r *Readiness) Failures(ctx context.Context) []string {
	if r.draining.Load() {
		return []string{"draining"}
	}
	var failures []string
	for _, check := range r.checks {
		if check.Check == nil {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := check.Check(checkCtx)
		cancel()
		if err != nil {
			name := check.Name
			if name == "" {
				name = "dependency"
			}
			failures = append(failures, name+": "+err.Error())
		}
	}
	return failures
}

func NewBaseMuxWithReady(ready *Readiness) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if failures := ready.Failures(r.Context()); len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failures, "; ")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
