package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "audiobridge"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	StreamBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_bytes_total",
		Help:      "Bytes served by the streaming endpoint, by response kind.",
	}, []string{"kind"})

	StoreOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_operation_duration_seconds",
		Help:      "Object store call latency by operation and outcome.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 1, 3, 10, 30},
	}, []string{"op", "status"})

	FTPSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ftp_sessions_active",
		Help:      "Number of connected FTP control sessions.",
	})

	FTPLoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ftp_logins_total",
		Help:      "FTP login attempts by result.",
	}, []string{"result"})

	FTPCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ftp_commands_total",
		Help:      "FTP commands handled by verb and reply class.",
	}, []string{"command", "class"})

	FTPBytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ftp_bytes_sent_total",
		Help:      "Bytes written to FTP data connections.",
	})

	IngestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingests_total",
		Help:      "Finished ingests by source and status.",
	}, []string{"source", "status"})

	IngestedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_bytes_total",
		Help:      "Bytes uploaded to the object store by ingests.",
	}, []string{"source"})

	TempStorageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "temp_storage_bytes",
		Help:      "Bytes currently held in the temporary working directory.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		StreamBytesTotal,
		StoreOperationDuration,
		FTPSessionsActive,
		FTPLoginsTotal,
		FTPCommandsTotal,
		FTPBytesSent,
		IngestsTotal,
		IngestedBytes,
		TempStorageBytes,
	)
}

// ObserveStore records one object store call.
func ObserveStore(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperationDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
