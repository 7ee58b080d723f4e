package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-j1939-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	J1939RxPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939_rx_packets_total",
		Help: "Total J1939 datagrams received from the CAN_J1939 socket.",
	})
	J1939TruncatedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939_truncated_packets_total",
		Help: "Total J1939 datagrams truncated to the configured packet size.",
	})
	J1939DeliveredPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939_delivered_packets_total",
		Help: "Total J1939 packets handed from the receive queue to the consumer.",
	})
	QueueDroppedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "j1939_queue_dropped_packets_total",
		Help: "Total packets discarded because the receive queue was full.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "j1939_queue_depth",
		Help: "Packets waiting in the receive queue after the last drain.",
	})
	TCPTxPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_packets_total",
		Help: "Total packets sent to TCP clients.",
	})
	HubDroppedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_packets_total",
		Help: "Total packets dropped by hub due to slow clients.",
	})
	HubFanoutBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_fanout_payload_bytes_total",
		Help: "Total J1939 payload bytes queued to clients, counted once per client.",
	})
	HubDroppedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_payload_bytes_total",
		Help: "Total J1939 payload bytes dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued packets among clients since last sample window.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued packets per client in last sample.",
	})
	RecorderWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_lines_total",
		Help: "Total packet lines written by the recorder.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_records_total",
		Help: "Total rejected malformed stream records (invalid length, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead          = "tcp_read"
	ErrTCPWrite         = "tcp_write"
	ErrHandshake        = "handshake"
	ErrJ1939Poll        = "j1939_poll"
	ErrJ1939Recv        = "j1939_recv"
	ErrJ1939Cmsg        = "j1939_cmsg"
	ErrRecorderWrite    = "recorder_write"
	ErrRecorderOverflow = "recorder_overflow"
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
	localRx         uint64
	localTruncated  uint64
	localDelivered  uint64
	localQueueDrop  uint64
	localQueueDepth uint64
	localTCPTx      uint64
	localHubDrop    uint64
	localHubKick    uint64
	localFanBytes   uint64
	localDropBytes  uint64
	localHubReject  uint64
	localErrors     uint64
	localHubClients uint64
	localFanout     uint64
	localMalformed  uint64
	localQDMax      uint64
	localQDAvg      uint64
	localRecorded   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxPackets     uint64
	Truncated     uint64
	Delivered     uint64
	QueueDrops    uint64
	QueueDepth    uint64
	TCPTx         uint64
	HubDrops      uint64
	HubKicks      uint64
	FanoutBytes   uint64
	DroppedBytes  uint64
	HubRejects    uint64
	Errors        uint64 // sum across error labels
	HubClients    uint64
	Fanout        uint64
	Malformed     uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
	Recorded      uint64
}

func Snap() Snapshot {
	return Snapshot{
		RxPackets:     atomic.LoadUint64(&localRx),
		Truncated:     atomic.LoadUint64(&localTruncated),
		Delivered:     atomic.LoadUint64(&localDelivered),
		QueueDrops:    atomic.LoadUint64(&localQueueDrop),
		QueueDepth:    atomic.LoadUint64(&localQueueDepth),
		TCPTx:         atomic.LoadUint64(&localTCPTx),
		HubDrops:      atomic.LoadUint64(&localHubDrop),
		HubKicks:      atomic.LoadUint64(&localHubKick),
		FanoutBytes:   atomic.LoadUint64(&localFanBytes),
		DroppedBytes:  atomic.LoadUint64(&localDropBytes),
		HubRejects:    atomic.LoadUint64(&localHubReject),
		Errors:        atomic.LoadUint64(&localErrors),
		HubClients:    atomic.LoadUint64(&localHubClients),
		Fanout:        atomic.LoadUint64(&localFanout),
		Malformed:     atomic.LoadUint64(&localMalformed),
		QueueDepthMax: atomic.LoadUint64(&localQDMax),
		QueueDepthAvg: atomic.LoadUint64(&localQDAvg),
		Recorded:      atomic.LoadUint64(&localRecorded),
	}
}

// IncRx increments the received datagram counters.
func IncRx() {
	J1939RxPackets.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncTruncated() {
	J1939TruncatedPackets.Inc()
	atomic.AddUint64(&localTruncated, 1)
}

// AddDelivered records n packets handed to the consumer.
func AddDelivered(n int) {
	J1939DeliveredPackets.Add(float64(n))
	atomic.AddUint64(&localDelivered, uint64(n))
}

func IncQueueDrop() {
	QueueDroppedPackets.Inc()
	atomic.AddUint64(&localQueueDrop, 1)
}

func SetQueueLen(n int) {
	QueueDepth.Set(float64(n))
	atomic.StoreUint64(&localQueueDepth, uint64(n))
}

func AddTCPTx(n int) {
	TCPTxPackets.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedPackets.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

// AddHubBytes records payload bytes queued to and dropped for clients in one broadcast.
func AddHubBytes(queued, dropped int) {
	if queued > 0 {
		HubFanoutBytes.Add(float64(queued))
		atomic.AddUint64(&localFanBytes, uint64(queued))
	}
	if dropped > 0 {
		HubDroppedBytes.Add(float64(dropped))
		atomic.AddUint64(&localDropBytes, uint64(dropped))
	}
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedRecords.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncRecorded() {
	RecorderWrites.Inc()
	atomic.AddUint64(&localRecorded, 1)
}

// SetQueueDepth records a snapshot of max and avg hub client queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrJ1939Poll, ErrJ1939Recv, ErrJ1939Cmsg,
		ErrRecorderWrite, ErrRecorderOverflow,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
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
