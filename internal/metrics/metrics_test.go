package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily はレジストリから名前でメトリクスファミリを探す。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordPollUpdated_IncrementsCounter は変更検出カウンタが増加することを検証する。
func TestRecordPollUpdated_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPollUpdated("sub-1")
	c.RecordPollUpdated("sub-1")

	mf := findMetricFamily(t, reg, "powderwatch_poll_updated_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("poll_updated_total = %v, want 2", val)
	}
}

// TestRecordPollUnchanged_IncrementsCounter は変更なしカウンタが増加することを検証する。
func TestRecordPollUnchanged_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPollUnchanged("sub-1")

	mf := findMetricFamily(t, reg, "powderwatch_poll_unchanged_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("poll_unchanged_total = %v, want 1", val)
	}
}

// TestRecordPollFailure_LabelsByClass は失敗分類ごとにラベルが分かれることを検証する。
func TestRecordPollFailure_LabelsByClass(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPollFailure("sub-1", "transport")
	c.RecordPollFailure("sub-1", "transport")
	c.RecordPollFailure("sub-2", "malformed_body")

	mf := findMetricFamily(t, reg, "powderwatch_poll_failure_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		class := m.GetLabel()[0].GetValue()
		val := m.GetCounter().GetValue()
		switch class {
		case "transport":
			if val != 2 {
				t.Errorf("transport = %v, want 2", val)
			}
		case "malformed_body":
			if val != 1 {
				t.Errorf("malformed_body = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected class label: %s", class)
		}
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus("HEAD", 200)
	c.RecordHTTPStatus("HEAD", 200)
	c.RecordHTTPStatus("GET", 503)

	mf := findMetricFamily(t, reg, "powderwatch_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		val := m.GetCounter().GetValue()
		switch {
		case labels["method"] == "HEAD" && labels["status_code"] == "200":
			if val != 2 {
				t.Errorf("HEAD 200 = %v, want 2", val)
			}
		case labels["method"] == "GET" && labels["status_code"] == "503":
			if val != 1 {
				t.Errorf("GET 503 = %v, want 1", val)
			}
		default:
			t.Errorf("unexpected labels: %v", labels)
		}
	}
}

// TestRecordFetchLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordFetchLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchLatency(150 * time.Millisecond)
	c.RecordFetchLatency(2 * time.Second)

	mf := findMetricFamily(t, reg, "powderwatch_fetch_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() < 2.1 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample sum = %v, want ~2.15", h.GetSampleSum())
	}
}

// TestRecordEntitiesPublished_AddsCount は公開エンティティ数が加算されることを検証する。
func TestRecordEntitiesPublished_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEntitiesPublished(48)
	c.RecordEntitiesPublished(2)

	mf := findMetricFamily(t, reg, "powderwatch_entities_published_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 50 {
		t.Errorf("entities_published_total = %v, want 50", val)
	}
}

// TestCollector_ImplementsInterface はCollectorとNopがインターフェースを満たすことを検証する。
func TestCollector_ImplementsInterface(t *testing.T) {
	var _ MetricsCollector = (*Collector)(nil)
	var _ MetricsCollector = Nop{}
}
