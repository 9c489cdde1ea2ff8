package metrics

import (
	"database/sql"
	"testing"
	"time"

	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSystemMetrics_RecordsPoolStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSystemMetrics(reg, func() sql.DBStats {
		return sql.DBStats{OpenConnections: 7, InUse: 3, WaitCount: 2}
	}, logger.NewNop()).(*systemMetrics)

	m.Record()

	assert.Equal(t, 7.0, testutil.ToFloat64(m.dbOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.dbInUse))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dbWait))
	assert.Greater(t, testutil.ToFloat64(m.goroutines), 0.0)
}

func TestSystemMetrics_StopIsIdempotent(t *testing.T) {
	m := NewSystemMetrics(prometheus.NewRegistry(), nil, logger.NewNop())
	m.StartRecording(time.Hour)
	m.Stop()
	m.Stop()
}
