package mid

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/dpos/foundation/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set of request metrics published on the debug mux.
var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dpos",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of requests handled, by status code.",
	}, []string{"code"})

	requestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dpos",
		Subsystem: "http",
		Name:      "errors_total",
		Help:      "Number of requests that reached the error handler.",
	})

	requestPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dpos",
		Subsystem: "http",
		Name:      "panics_total",
		Help:      "Number of requests that panicked.",
	})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dpos",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time spent handling requests.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Metrics updates program counters.
func Metrics() web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			// Call the next handler.
			err := handler(ctx, w, r)

			v := web.GetValues(ctx)
			requests.WithLabelValues(strconv.Itoa(v.StatusCode)).Inc()
			requestDuration.Observe(time.Since(v.Now).Seconds())

			if err != nil {
				requestErrors.Inc()
			}

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return m
}
