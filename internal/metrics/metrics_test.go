package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	r := New()
	r.LLMRequestsTotal.WithLabelValues("anthropic", "ok").Inc()
	r.LLMFailoverTotal.Inc()
	r.ToolExecutionsTotal.WithLabelValues("file_read", "ok").Inc()
	r.ToolQueueDepth.Set(3)
	r.TRMEpisodeBufferSize.Set(42)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"gpagent_llm_requests_total",
		"gpagent_llm_failover_total",
		"gpagent_tools_executions_total",
		"gpagent_tools_queue_depth",
		"gpagent_trm_episode_buffer_size",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
