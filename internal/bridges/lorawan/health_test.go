package lorawan

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestHealthReporterPublishNow(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		Version:   "1.2.3",
		Publisher: mqtt,
		Objects:   func() int { return 4 },
		Counters:  func() Metrics { return Metrics{UplinksApplied: 7} },
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	mqtt.mu.Lock()
	defer mqtt.mu.Unlock()
	if len(mqtt.published) != 1 {
		t.Fatalf("published = %d, want 1", len(mqtt.published))
	}
	p := mqtt.published[0]
	if p.topic != "lw2bacnet/health" || p.qos != 1 || !p.retained {
		t.Errorf("publish = %s qos %d retained %v, want lw2bacnet/health qos 1 retained", p.topic, p.qos, p.retained)
	}

	var msg HealthMessage
	if err := json.Unmarshal(p.payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthHealthy || msg.Version != "1.2.3" || msg.Objects != 4 {
		t.Errorf("message = %+v", msg)
	}
	if msg.Counters == nil || msg.Counters.UplinksApplied != 7 {
		t.Errorf("Counters = %+v, want UplinksApplied 7", msg.Counters)
	}
}

func TestHealthReporterDegraded(t *testing.T) {
	mqtt := NewMockMQTTClient()
	mqtt.connected = false
	h := NewHealthReporter(HealthReporterConfig{Publisher: mqtt})

	status, reason := h.Status()
	if status != HealthDegraded || reason == "" {
		t.Errorf("Status() = %s %q, want degraded with reason", status, reason)
	}
	if snap := h.Snapshot(); snap.Status != HealthDegraded {
		t.Errorf("Snapshot().Status = %s, want degraded", snap.Status)
	}
}

func TestHealthReporterStartStop(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{Publisher: mqtt, Interval: 10 * time.Millisecond})

	h.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	h.Stop()
	h.Stop()

	mqtt.mu.Lock()
	defer mqtt.mu.Unlock()
	if len(mqtt.published) < 2 {
		t.Fatalf("published = %d, want periodic messages", len(mqtt.published))
	}
	var last HealthMessage
	if err := json.Unmarshal(mqtt.published[len(mqtt.published)-1].payload, &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last status = %s, want stopping", last.Status)
	}
}

func TestHealthReporterLWT(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})

	if h.GetLWTTopic() != "lw2bacnet/health" {
		t.Errorf("GetLWTTopic() = %q", h.GetLWTTopic())
	}
	payload, err := h.GetLWTPayload()
	if err != nil {
		t.Fatalf("GetLWTPayload() error = %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthOffline || msg.Reason == "" {
		t.Errorf("LWT = %+v, want offline with reason", msg)
	}

	// No publisher configured: nothing to do.
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
}
