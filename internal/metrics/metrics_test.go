package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRunStarted_IncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(runsStarted)
	RecordRunStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(runsStarted))
}

func TestRecordRunFinished_LabelsByStatus(t *testing.T) {
	before := testutil.ToFloat64(runsFinished.WithLabelValues("completed"))
	RecordRunFinished("completed")
	assert.Equal(t, before+1, testutil.ToFloat64(runsFinished.WithLabelValues("completed")))
}

func TestRecordEventPublished_DefaultsUnknownKind(t *testing.T) {
	before := testutil.ToFloat64(eventsPublished.WithLabelValues("unknown"))
	RecordEventPublished("")
	assert.Equal(t, before+1, testutil.ToFloat64(eventsPublished.WithLabelValues("unknown")))
}

func TestActiveSubscribersGauge_IncDec(t *testing.T) {
	before := testutil.ToFloat64(activeSubscribers)
	IncActiveSubscribers()
	assert.Equal(t, before+1, testutil.ToFloat64(activeSubscribers))
	DecActiveSubscribers()
	assert.Equal(t, before, testutil.ToFloat64(activeSubscribers))
}

func TestRecordIterationDuration_ClampsNonPositive(t *testing.T) {
	RecordIterationDuration("docker", -time.Second)
	count := testutil.CollectAndCount(iterationDuration)
	assert.Greater(t, count, 0)
}
