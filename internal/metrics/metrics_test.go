package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeDir struct{ rules, tombs int }

func (f fakeDir) Len() int        { return f.rules }
func (f fakeDir) Tombstones() int { return f.tombs }

func TestRegisterRules_IsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterRules(reg, nil))
	require.NoError(t, RegisterRules(reg, nil))
	require.NoError(t, RegisterRaft(reg))
	require.NoError(t, RegisterRaft(reg))
}

func TestRegisterRules_DirectoryGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterRules(reg, fakeDir{rules: 3, tombs: 1}))

	n, err := testutil.GatherAndCount(reg, "ruledir_rules", "ruledir_tombstones")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(MergesTotal.WithLabelValues("http", "error"))
	ObserveMerge("http", errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(MergesTotal.WithLabelValues("http", "error")))

	before = testutil.ToFloat64(BroadcastsTotal.WithLabelValues("nats", "ok"))
	ObserveBroadcast("nats", nil)
	require.Equal(t, before+1, testutil.ToFloat64(BroadcastsTotal.WithLabelValues("nats", "ok")))
}
