package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestAppliesCounter(t *testing.T) {
	before := testutil.ToFloat64(Applies.WithLabelValues("memory", "ok"))
	Applies.WithLabelValues("memory", "ok").Inc()
	after := testutil.ToFloat64(Applies.WithLabelValues("memory", "ok"))
	if after-before != 1 {
		t.Fatalf("expected counter to advance by one, got %v", after-before)
	}
}
