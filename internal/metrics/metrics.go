package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-osc-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	LinkRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_rx_bytes_total",
		Help: "Total raw bytes received from the link.",
	})
	LinkTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_tx_bytes_total",
		Help: "Total raw bytes written to the link.",
	})
	FramesRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_rx_total",
		Help: "Total non-empty frames completed by the decoder.",
	})
	FramesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_tx_total",
		Help: "Total frames sent to the host.",
	})
	Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heartbeats_total",
		Help: "Total empty frames received.",
	})
	StructuredMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "structured_messages_total",
		Help: "Total structured messages parsed successfully.",
	})
	RawFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raw_frames_total",
		Help: "Total frames consumed in raw mode.",
	})
	RawBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raw_bytes_total",
		Help: "Total bytes delivered to the raw input handler.",
	})
	Dispatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatches_total",
		Help: "Total handler invocations.",
	})
	Unmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unmatched_messages_total",
		Help: "Total messages no registered method matched.",
	})
	ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "protocol_errors_total",
		Help: "Total structured frames dropped as malformed.",
	})
	ValidationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "validation_errors_total",
		Help: "Total requests rejected by argument validation.",
	})
	MethodsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "methods_rejected_total",
		Help: "Total method registrations rejected because the registry is full.",
	})
	Responses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "responses_total",
		Help: "Responses sent to the host by outcome.",
	}, []string{"outcome"})
	TransfersCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfers_committed_total",
		Help: "Total raw file writes committed to their destination.",
	})
	TransfersDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transfers_discarded_total",
		Help: "Total raw file writes discarded (checksum or storage failure).",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total invalid escape sequences dropped by the decoder.",
	})
	LinkConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_connected",
		Help: "1 while a host link is attached.",
	})
	LinkRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_rejected_total",
		Help: "Total host connections rejected because the link was busy.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrLinkRead      = "link_read"
	ErrLinkWrite     = "link_write"
	ErrLinkOverflow  = "link_tx_overflow"
	ErrLinkAccept    = "link_accept"
	ErrSend          = "send"
	ErrStorage       = "storage"
	ErrRegistryFull  = "registry_full"
	ErrMessageTooBig = "message_too_big"
)

// Response outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRxBytes     uint64
	localTxBytes     uint64
	localFramesRx    uint64
	localFramesTx    uint64
	localHeartbeats  uint64
	localStructured  uint64
	localRawFrames   uint64
	localRawBytes    uint64
	localDispatches  uint64
	localUnmatched   uint64
	localProtocol    uint64
	localValidation  uint64
	localRejected    uint64
	localSuccess     uint64
	localFailure     uint64
	localCommitted   uint64
	localDiscarded   uint64
	localMalformed   uint64
	localErrors      uint64
	localLinkRejects uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxBytes          uint64
	TxBytes          uint64
	FramesRx         uint64
	FramesTx         uint64
	Heartbeats       uint64
	Structured       uint64
	RawFrames        uint64
	RawBytes         uint64
	Dispatches       uint64
	Unmatched        uint64
	ProtocolErrors   uint64
	ValidationErrors uint64
	MethodsRejected  uint64
	Successes        uint64
	Failures         uint64
	Committed        uint64
	Discarded        uint64
	Malformed        uint64
	Errors           uint64 // sum across error labels
	LinkRejects      uint64
}

func Snap() Snapshot {
	return Snapshot{
		RxBytes:          atomic.LoadUint64(&localRxBytes),
		TxBytes:          atomic.LoadUint64(&localTxBytes),
		FramesRx:         atomic.LoadUint64(&localFramesRx),
		FramesTx:         atomic.LoadUint64(&localFramesTx),
		Heartbeats:       atomic.LoadUint64(&localHeartbeats),
		Structured:       atomic.LoadUint64(&localStructured),
		RawFrames:        atomic.LoadUint64(&localRawFrames),
		RawBytes:         atomic.LoadUint64(&localRawBytes),
		Dispatches:       atomic.LoadUint64(&localDispatches),
		Unmatched:        atomic.LoadUint64(&localUnmatched),
		ProtocolErrors:   atomic.LoadUint64(&localProtocol),
		ValidationErrors: atomic.LoadUint64(&localValidation),
		MethodsRejected:  atomic.LoadUint64(&localRejected),
		Successes:        atomic.LoadUint64(&localSuccess),
		Failures:         atomic.LoadUint64(&localFailure),
		Committed:        atomic.LoadUint64(&localCommitted),
		Discarded:        atomic.LoadUint64(&localDiscarded),
		Malformed:        atomic.LoadUint64(&localMalformed),
		Errors:           atomic.LoadUint64(&localErrors),
		LinkRejects:      atomic.LoadUint64(&localLinkRejects),
	}
}

// Wrapper helpers to keep call sites simple.
func AddRxBytes(n int) {
	LinkRxBytes.Add(float64(n))
	atomic.AddUint64(&localRxBytes, uint64(n))
}

func AddTxBytes(n int) {
	LinkTxBytes.Add(float64(n))
	atomic.AddUint64(&localTxBytes, uint64(n))
}

func IncFramesRx() {
	FramesRx.Inc()
	atomic.AddUint64(&localFramesRx, 1)
}

func IncFramesTx() {
	FramesTx.Inc()
	atomic.AddUint64(&localFramesTx, 1)
}

func IncHeartbeat() {
	Heartbeats.Inc()
	atomic.AddUint64(&localHeartbeats, 1)
}

func IncStructured() {
	StructuredMessages.Inc()
	atomic.AddUint64(&localStructured, 1)
}

// IncRawFrame counts a completed raw frame and the bytes it carried.
func IncRawFrame(n int) {
	RawFrames.Inc()
	RawBytes.Add(float64(n))
	atomic.AddUint64(&localRawFrames, 1)
	atomic.AddUint64(&localRawBytes, uint64(n))
}

func AddDispatches(n int) {
	Dispatches.Add(float64(n))
	atomic.AddUint64(&localDispatches, uint64(n))
}

func IncUnmatched() {
	Unmatched.Inc()
	atomic.AddUint64(&localUnmatched, 1)
}

func IncProtocolError() {
	ProtocolErrors.Inc()
	atomic.AddUint64(&localProtocol, 1)
}

func IncValidationError() {
	ValidationErrors.Inc()
	atomic.AddUint64(&localValidation, 1)
}

func IncMethodRejected() {
	MethodsRejected.Inc()
	atomic.AddUint64(&localRejected, 1)
}

// IncResponse counts a response by outcome label.
func IncResponse(outcome string) {
	Responses.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		atomic.AddUint64(&localSuccess, 1)
	} else {
		atomic.AddUint64(&localFailure, 1)
	}
}

func IncCommitted() {
	TransfersCommitted.Inc()
	atomic.AddUint64(&localCommitted, 1)
}

func IncDiscarded() {
	TransfersDiscarded.Inc()
	atomic.AddUint64(&localDiscarded, 1)
}

func AddMalformed(n uint64) {
	if n == 0 {
		return
	}
	MalformedFrames.Add(float64(n))
	atomic.AddUint64(&localMalformed, n)
}

func SetLinkConnected(up bool) {
	if up {
		LinkConnected.Set(1)
		return
	}
	LinkConnected.Set(0)
}

func IncLinkRejected() {
	LinkRejected.Inc()
	atomic.AddUint64(&localLinkRejects, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register label series so dashboards show zeros before the first event.
	for _, lbl := range []string{
		ErrLinkRead, ErrLinkWrite, ErrLinkOverflow, ErrLinkAccept,
		ErrSend, ErrStorage, ErrRegistryFull, ErrMessageTooBig,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	Responses.WithLabelValues(OutcomeSuccess).Add(0)
	Responses.WithLabelValues(OutcomeError).Add(0)
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
