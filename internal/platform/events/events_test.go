package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBuildMessage(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	msg, err := buildMessage(Event{
		Type:       TypeImportCommitted,
		TenantID:   "acme",
		Subject:    "absences",
		OccurredAt: at,
		Data:       map[string]any{"created": 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(msg.Key) != "acme:absences" {
		t.Errorf("expected key acme:absences, got %s", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Errorf("expected time %v, got %v", at, msg.Time)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["tenant_id"] != "acme" || headers["event_type"] != TypeImportCommitted {
		t.Errorf("unexpected headers %v", headers)
	}

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if ev.Data["created"] != 3.0 {
		t.Errorf("expected created=3, got %v", ev.Data["created"])
	}
}

func TestBuildMessage_DefaultsTime(t *testing.T) {
	msg, err := buildMessage(Event{Type: "x", TenantID: "t", Subject: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Time.IsZero() {
		t.Error("expected time to be set")
	}
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	if _, err := NewKafkaPublisher(Config{Topic: "t"}, zerolog.Nop()); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaPublisher(Config{Brokers: []string{"localhost:9092"}}, zerolog.Nop()); err == nil {
		t.Error("expected error without topic")
	}
	p, err := NewKafkaPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "occuhealth.events"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), Event{Type: "x"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
