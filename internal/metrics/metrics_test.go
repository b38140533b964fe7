package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordMessage(t *testing.T) {
	before := testutil.ToFloat64(MessagesProcessed.WithLabelValues("quiet_ack"))
	RecordMessage("quiet_ack", 120*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(MessagesProcessed.WithLabelValues("quiet_ack")))
}

func TestRecordTick(t *testing.T) {
	before := testutil.ToFloat64(TicksTotal.WithLabelValues("ok"))
	RecordTick("ok", time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(TicksTotal.WithLabelValues("ok")))
	assert.Greater(t, testutil.ToFloat64(LastTickTimestamp), 0.0)
}
