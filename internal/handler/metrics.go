package handler

import (
	"expvar"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
)

var (
	httpRequestsInFlight = expvar.NewInt("gauge_http_requests_in_flight")
	httpResponseBytes    = expvar.NewInt("counter_http_response_bytes")
)

// Image processing is slow compared to a typical http handler, the upper buckets cover large resizes
var durationBuckets = []time.Duration{
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

var httpRequestDurationSeconds = NewRequestHistogram()

func init() {
	expvar.Publish("http_request_duration_seconds", httpRequestDurationSeconds)
}

// Metrics is a handler that collects performance metrics
func Metrics(h http.Handler, routeMatcher RouteMatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeMatcher.Match(r)

		httpRequestsInFlight.Add(1)
		defer httpRequestsInFlight.Add(-1)

		respMetrics := httpsnoop.CaptureMetricsFn(w, func(ww http.ResponseWriter) {
			h.ServeHTTP(ww, r)
		})

		httpResponseBytes.Add(respMetrics.Written)
		httpRequestDurationSeconds.Observe(route, respMetrics.Code, respMetrics.Duration)
	})
}

type series struct {
	route string
	code  int
}

type observations struct {
	buckets []int64 // cumulative, one per durationBuckets entry
	count   int64
	sum     float64
}

// RequestHistogram is a histogram of request durations, labeled by route and status code.
// It is an expvar.Var, and VarzHandler exports it in the prometheus text format.
type RequestHistogram struct {
	mu     sync.Mutex
	series map[series]*observations
}

// NewRequestHistogram creates an empty histogram
func NewRequestHistogram() *RequestHistogram {
	return &RequestHistogram{
		series: make(map[series]*observations),
	}
}

// Observe records the duration of a request
func (h *RequestHistogram) Observe(route string, code int, duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := series{route, code}
	o, ok := h.series[key]
	if !ok {
		o = &observations{buckets: make([]int64, len(durationBuckets))}
		h.series[key] = o
	}

	o.count++
	o.sum += duration.Seconds()

	for i, upper := range durationBuckets {
		if duration <= upper {
			o.buckets[i]++
		}
	}
}

// WritePrometheus writes the histogram in the prometheus text format
func (h *RequestHistogram) WritePrometheus(w io.Writer, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]series, 0, len(h.series))
	for key := range h.series {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		return keys[i].code < keys[j].code
	})

	fmt.Fprintf(w, "# TYPE %s histogram\n", name)

	for _, key := range keys {
		o := h.series[key]
		labels := fmt.Sprintf("route=%q,code=\"%d\"", key.route, key.code)

		for i, upper := range durationBuckets {
			le := strconv.FormatFloat(upper.Seconds(), 'g', -1, 64)
			fmt.Fprintf(w, "%s_bucket{%s,le=%q} %d\n", name, labels, le, o.buckets[i])
		}

		fmt.Fprintf(w, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, o.count)
		fmt.Fprintf(w, "%s_sum{%s} %v\n", name, labels, o.sum)
		fmt.Fprintf(w, "%s_count{%s} %d\n", name, labels, o.count)
	}
}

// String returns the number of observed requests, for /debug/vars
func (h *RequestHistogram) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var count int64
	for _, o := range h.series {
		count += o.count
	}

	return strconv.FormatInt(count, 10)
}
