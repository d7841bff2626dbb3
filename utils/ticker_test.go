package utils

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"go.viam.com/sfmlink/logging"
)

func TestSlowLogger(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	clk := clock.NewMock()

	stop := SlowLogger(context.Background(), clk, "stage still running", "stage", "visibility", logger)
	test.That(t, logs.Len(), test.ShouldEqual, 0)

	clk.Add(2 * time.Second)
	deadline := time.Now().Add(5 * time.Second)
	for logs.FilterMessage("stage still running").Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	stop()

	entries := logs.FilterMessage("stage still running").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].ContextMap()["stage"], test.ShouldEqual, "visibility")
	test.That(t, entries[0].ContextMap()["time_elapsed"], test.ShouldEqual, "2s")

	// nothing is logged once stopped
	clk.Add(time.Minute)
	test.That(t, logs.FilterMessage("stage still running").Len(), test.ShouldEqual, 1)
}

func TestSlowLoggerStopsWithContext(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	stop := SlowLogger(ctx, clock.NewMock(), "msg", "k", "v", logger)
	cancel()
	stop()
}
