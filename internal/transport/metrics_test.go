// Copyright 2025 Joseph Cumines
//
// Metrics unit tests

package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// gather returns the metric family called name.
func gather(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labels(m *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, l := range m.GetLabel() {
		out[l.GetName()] = l.GetValue()
	}
	return out
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/message", 200, time.Second)
	m.RecordToolCall("snapshot", "ok", time.Second)
	m.RecordSnapshot("Main", 10, time.Millisecond)
	m.SetExplorers(1)
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()
	m.RecordToolCall("snapshot", "ok", 20*time.Millisecond)
	m.RecordToolCall("snapshot", "ok", 30*time.Millisecond)
	m.RecordToolCall("snapshot", "error", time.Millisecond)
	m.RecordRequest("/message", 429, time.Millisecond)
	m.RecordSnapshot("Query", 17, time.Millisecond)
	m.SetExplorers(3)

	calls := gather(t, m, "axplorer_tool_calls_total")
	if calls == nil {
		t.Fatal("missing axplorer_tool_calls_total")
	}
	got := map[string]float64{}
	for _, metric := range calls.GetMetric() {
		l := labels(metric)
		got[l["tool"]+"/"+l["status"]] = metric.GetCounter().GetValue()
	}
	if got["snapshot/ok"] != 2 || got["snapshot/error"] != 1 {
		t.Errorf("tool calls = %v", got)
	}

	duration := gather(t, m, "axplorer_tool_duration_seconds")
	if n := duration.GetMetric()[0].GetHistogram().GetSampleCount(); n != 3 {
		t.Errorf("duration samples = %d, want 3", n)
	}

	requests := gather(t, m, "axplorer_http_requests_total")
	if l := labels(requests.GetMetric()[0]); l["route"] != "/message" || l["code"] != "429" {
		t.Errorf("request labels = %v", l)
	}

	if v := gather(t, m, "axplorer_explorers_active").GetMetric()[0].GetGauge().GetValue(); v != 3 {
		t.Errorf("explorers gauge = %g, want 3", v)
	}
	nodes := gather(t, m, "axplorer_snapshot_nodes").GetMetric()[0]
	if labels(nodes)["context"] != "Query" || nodes.GetHistogram().GetSampleSum() != 17 {
		t.Errorf("snapshot nodes = %v", nodes)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordToolCall("open_explorer", "ok", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`axplorer_tool_calls_total{status="ok",tool="open_explorer"} 1`,
		"# TYPE axplorer_tool_duration_seconds histogram",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
