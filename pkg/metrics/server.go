package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const indexPage = `<html><head><title>Bootstrap Annotator Metrics</title></head><body>
<h1>Bootstrap Annotator Metrics</h1>
<ul>
<li><a href="/metrics">/metrics</a> scrape endpoint</li>
<li>group_build_duration_seconds, span_edits_total, pattern_pass_duration_seconds</li>
<li>retrievals_total, result_cache_hits_total, active_sessions</li>
</ul>
</body></html>`

// StartServer serves g on a dedicated port, so scrapes bypass the API's
// rate limit and timeouts. A nil g serves the default registry. It returns
// the server's shutdown function.
func StartServer(port int, g prometheus.Gatherer) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	if g == nil {
		mux.Handle("/metrics", Handler())
	} else {
		mux.Handle("/metrics", HandlerFor(g))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexPage)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		slog.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}
