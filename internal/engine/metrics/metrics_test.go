package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector("test")
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.Registry() == nil {
		t.Error("registry should not be nil")
	}
}

func TestNewCollector_DefaultNamespace(t *testing.T) {
	c := NewCollector("")
	c.UpdateUptime()

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "spendsave_uptime_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("expected spendsave_uptime_seconds to be registered")
	}
}

func TestCollector_OperationMetrics(t *testing.T) {
	c := NewCollector("test")

	c.RecordOperation("hook.beforeTrade", time.Millisecond, nil)
	c.RecordOperation("hook.beforeTrade", time.Millisecond, nil)
	c.RecordOperation("ledger.batchMint", time.Millisecond, errors.New("boom"))
	c.RecordRevert("ledger.batchMint", "insufficient_balance")

	if got := testutil.ToFloat64(c.operationsTotal.WithLabelValues("hook.beforeTrade", "success")); got != 2 {
		t.Errorf("operations success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.operationsTotal.WithLabelValues("ledger.batchMint", "error")); got != 1 {
		t.Errorf("operations error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.reverts.WithLabelValues("ledger.batchMint", "insufficient_balance")); got != 1 {
		t.Errorf("reverts = %v, want 1", got)
	}
}

func TestCollector_DomainMetrics(t *testing.T) {
	c := NewCollector("test")

	// Should not panic
	c.RecordTrade("before", "fast")
	c.RecordTrade("after", "strategy")
	c.RecordContribution("input")
	c.RecordLedgerOp("mint", nil)
	c.RecordLedgerOp("burn", errors.New("insufficient"))
	c.RecordBatch("require_all", 3, nil)
	c.RecordBatch("best_effort", 5, errors.New("partial"))
	c.RecordConversion(nil)
	c.RecordQueueDepth(4)
	c.RecordHTTPRequest("/v1/supply/{assetID}", "GET", 200, time.Millisecond)
	c.RecordHTTPRequest("/v1/supply/{assetID}", "GET", 404, time.Millisecond)

	if got := testutil.ToFloat64(c.queueDepth); got != 4 {
		t.Errorf("queue depth = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("/v1/supply/{assetID}", "GET", "4xx")); got != 1 {
		t.Errorf("4xx requests = %v, want 1", got)
	}
}

func TestHTTPStatusLabel(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 301: "3xx", 404: "4xx", 503: "5xx"}
	for status, want := range tests {
		if got := httpStatusLabel(status); got != want {
			t.Errorf("httpStatusLabel(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestNoOpCollector(t *testing.T) {
	c := NewNoOpCollector()

	// Should not panic
	c.RecordOperation("op", time.Second, nil)
	c.RecordRevert("op", "kind")
	c.RecordTrade("before", "fast")
	c.RecordContribution("output")
	c.RecordLedgerOp("mint", nil)
	c.RecordBatch("best_effort", 1, nil)
	c.RecordConversion(nil)
	c.RecordQueueDepth(0)
	c.RecordHTTPRequest("/", "GET", 200, 0)
	c.UpdateUptime()
}
