package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestObserveStoreLabelsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	ObserveStore("head", time.Now(), nil)
	ObserveStore("head", time.Now(), errors.New("boom"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	statuses := map[string]bool{}
	for _, mf := range families {
		if mf.GetName() != "audiobridge_store_operation_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status" {
					statuses[lp.GetValue()] = true
				}
			}
		}
	}
	if !statuses["ok"] || !statuses["error"] {
		t.Fatalf("statuses = %v", statuses)
	}
}
