package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream byte directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	once sync.Once

	streamBytes       *prometheus.CounterVec
	protocolEntries   *prometheus.CounterVec
	connectAttempts   *prometheus.CounterVec
	handshakeDuration prometheus.Observer
	pollCycles        prometheus.Counter
	fakePresenceSent  prometheus.Counter
	friendsTracked    prometheus.Gauge
	sessionConnected  prometheus.Gauge
	gameRunning       prometheus.Gauge
)

// InitMetrics registers the presence metrics with the default registry.
// Safe to call more than once. Until it is called every helper is a no-op.
func InitMetrics() {
	once.Do(func() {
		streamBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_stream_bytes_total",
			Help: "Bytes moved over the chat stream",
		}, []string{"direction"})
		protocolEntries = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_protocol_log_entries_total",
			Help: "Diagnostic log entries recorded, by direction",
		}, []string{"direction"})
		connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_connect_attempts_total",
			Help: "Chat session connect attempts, by result",
		}, []string{"result"})
		handshakeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_handshake_duration_seconds",
			Help:    "Time from dial to bound session",
			Buckets: prometheus.DefBuckets,
		})
		pollCycles = promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_poll_cycles_total",
			Help: "Poll cycles run against a connected session",
		})
		fakePresenceSent = promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_fake_presence_sent_total",
			Help: "Crafted presence stanzas written",
		})
		friendsTracked = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "companion_friends_tracked",
			Help: "Peers currently held in the presence cache",
		})
		sessionConnected = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "companion_session_connected",
			Help: "1 while the chat session is connected",
		})
		gameRunning = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "companion_game_running",
			Help: "1 while the Riot client and the game are both running",
		})
	})
}

// ObserveStreamBytes adds n bytes to the stream counter.
func ObserveStreamBytes(direction string, n int) {
	if streamBytes != nil && n > 0 {
		streamBytes.WithLabelValues(direction).Add(float64(n))
	}
}

// ObserveLogEntry counts one diagnostic log entry.
func ObserveLogEntry(direction string) {
	if protocolEntries != nil {
		protocolEntries.WithLabelValues(direction).Inc()
	}
}

// ObserveConnect records a connect attempt and, on success, its duration.
func ObserveConnect(err error, d time.Duration) {
	if connectAttempts == nil {
		return
	}
	if err != nil {
		connectAttempts.WithLabelValues("error").Inc()
		return
	}
	connectAttempts.WithLabelValues("ok").Inc()
	handshakeDuration.Observe(d.Seconds())
}

// ObservePoll counts a poll cycle.
func ObservePoll() {
	if pollCycles != nil {
		pollCycles.Inc()
	}
}

// ObserveFakePresence counts a crafted presence write.
func ObserveFakePresence() {
	if fakePresenceSent != nil {
		fakePresenceSent.Inc()
	}
}

// SetFriendsTracked records the presence cache size.
func SetFriendsTracked(n int) {
	if friendsTracked != nil {
		friendsTracked.Set(float64(n))
	}
}

// SetSessionConnected records the session state.
func SetSessionConnected(connected bool) {
	if sessionConnected == nil {
		return
	}
	if connected {
		sessionConnected.Set(1)
	} else {
		sessionConnected.Set(0)
	}
}

// SetGameRunning records the last game process check.
func SetGameRunning(running bool) {
	if gameRunning == nil {
		return
	}
	if running {
		gameRunning.Set(1)
	} else {
		gameRunning.Set(0)
	}
}
