package sched_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandscope/brandscope/internal/config"
	"github.com/brandscope/brandscope/internal/sched"
)

func TestSchedulerLifecycle(t *testing.T) {
	s := sched.New(nil, nil, nil, nil, config.SchedulerConfig{
		ReconcileSpec: "@every 2m",
		DailyScanSpec: "0 6 * * *",
	})
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestSchedulerRejectsInvalidSpec(t *testing.T) {
	s := sched.New(nil, nil, nil, nil, config.SchedulerConfig{
		ReconcileSpec: "not a cron spec",
		DailyScanSpec: "0 6 * * *",
	})
	assert.Error(t, s.Start())
}
