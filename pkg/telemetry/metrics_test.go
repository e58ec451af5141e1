package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveCall("tool", "ok")
	m.ObserveRetry("llm")
	m.ObserveStep("unknown_tool")
	m.ObserveMission("FINISHED")
	m.ObserveTool("fs_read_file", 120*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`padawan_external_calls_total{kind="tool",outcome="ok"} 1`,
		`padawan_call_retries_total{kind="llm"} 1`,
		`padawan_mission_steps_total{outcome="unknown_tool"} 1`,
		`padawan_missions_total{status="FINISHED"} 1`,
		`padawan_tool_duration_seconds_count{tool="fs_read_file"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCall("tool", "ok")
	m.AddInFlight(1)
	m.ObserveTool("x", time.Second)
}
