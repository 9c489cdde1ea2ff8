package metrics

import (
	"database/sql"
	"runtime"
	"sync"
	"time"

	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DBStatsFunc источник статистики пула соединений. nil для хранилища в памяти.
type DBStatsFunc func() sql.DBStats

// SystemMetrics интерфейс для системных метрик
type SystemMetrics interface {
	Record()
	StartRecording(interval time.Duration)
	Stop()
}

type systemMetrics struct {
	log         *logger.Logger
	dbStats     DBStatsFunc
	goroutines  prometheus.Gauge
	memoryAlloc prometheus.Gauge
	memoryGC    prometheus.Gauge
	dbOpen      prometheus.Gauge
	dbInUse     prometheus.Gauge
	dbWait      prometheus.Gauge
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewSystemMetrics создает новые системные метрики
func NewSystemMetrics(registry *prometheus.Registry, dbStats DBStatsFunc, log *logger.Logger) SystemMetrics {
	factory := promauto.With(registry)
	return &systemMetrics{
		log:     log,
		dbStats: dbStats,
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_goroutines",
			Help: "Current number of goroutines",
		}),
		memoryAlloc: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_memory_alloc_bytes",
			Help: "Currently allocated memory in bytes",
		}),
		memoryGC: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_memory_gc_cycles",
			Help: "Completed garbage collection cycles",
		}),
		dbOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_open_connections",
			Help: "Open connections in the database pool",
		}),
		dbInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_in_use_connections",
			Help: "Connections currently in use",
		}),
		dbWait: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_wait_count",
			Help: "Total number of connections waited for",
		}),
		stopCh: make(chan struct{}),
	}
}

// Record снимает текущие значения
func (m *systemMetrics) Record() {
	m.goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.memoryAlloc.Set(float64(memStats.Alloc))
	m.memoryGC.Set(float64(memStats.NumGC))

	if m.dbStats != nil {
		st := m.dbStats()
		m.dbOpen.Set(float64(st.OpenConnections))
		m.dbInUse.Set(float64(st.InUse))
		m.dbWait.Set(float64(st.WaitCount))
	}
}

// StartRecording начинает запись метрик с заданным интервалом
func (m *systemMetrics) StartRecording(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Record()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.log.Infow("System metrics recording started", "interval", interval.String())
}

// Stop останавливает запись метрик
func (m *systemMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.log.Infow("System metrics recording stopped")
	})
}
