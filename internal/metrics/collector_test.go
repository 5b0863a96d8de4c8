package metrics

import "testing"

func TestMemoryRecorderCounter(t *testing.T) {
	m := NewMemoryRecorder()
	m.IncrCounter("tasks_submitted", nil)
	m.IncrCounter("tasks_submitted", nil)
	if got := m.Counter("tasks_submitted", nil); got != 2 {
		t.Fatalf("expected counter 2, got %v", got)
	}
}

func TestMemoryRecorderLabelsDistinguish(t *testing.T) {
	m := NewMemoryRecorder()
	m.IncrCounter("dispatch", map[string]string{"class": "high"})
	m.IncrCounter("dispatch", map[string]string{"class": "low"})
	if got := m.Counter("dispatch", map[string]string{"class": "high"}); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := m.Counter("dispatch", map[string]string{"class": "low"}); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
}

func TestMemoryRecorderGauge(t *testing.T) {
	m := NewMemoryRecorder()
	m.SetGauge("queue_size", 3, nil)
	m.SetGauge("queue_size", 5, nil)
	if got := m.Gauge("queue_size", nil); got != 5 {
		t.Fatalf("expected last-write 5, got %v", got)
	}
}

func TestMemoryRecorderHistogram(t *testing.T) {
	m := NewMemoryRecorder()
	m.ObserveHistogram("task_duration_ms", 10, nil)
	m.ObserveHistogram("task_duration_ms", 20, nil)
	samples := m.HistogramSamples("task_duration_ms", nil)
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
}

func TestNoopRecorderNeverPanics(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncrCounter("x", nil)
	r.ObserveHistogram("y", 1, nil)
	r.SetGauge("z", 1, nil)
}
