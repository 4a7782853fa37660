package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-mcp2515/internal/logging"
)

var readiness atomic.Pointer[func() bool]

// SetReadinessFunc installs the check behind /ready and IsReady.
func SetReadinessFunc(fn func() bool) {
	if fn == nil {
		readiness.Store(nil)
		return
	}
	readiness.Store(&fn)
}

// IsReady reports true until a readiness function is installed.
func IsReady() bool {
	fn := readiness.Load()
	return fn == nil || (*fn)()
}

func handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		status, body := http.StatusOK, "ready\n"
		if !IsReady() {
			status, body = http.StatusServiceUnavailable, "not ready\n"
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	return mux
}

// StartHTTP serves /metrics and /ready on addr in the background. Stop it
// with Shutdown on the returned server.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics_http_error", "addr", addr, "error", err)
		}
	}()
	return srv
}
