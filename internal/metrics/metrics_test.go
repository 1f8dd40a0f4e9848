package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAccumulate(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(RowsDeleted)
	RowsDeleted.Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(RowsDeleted))

	DecodeErrors.WithLabelValues("missing").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(DecodeErrors.WithLabelValues("missing")), 1.0)
}
