package alerts

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockAlerter records everything it is asked to send.
type mockAlerter struct {
	alerts []Alert
	err    error
}

func (m *mockAlerter) Send(ctx context.Context, alert Alert) error {
	m.alerts = append(m.alerts, alert)
	return m.err
}

// captureDefault swaps the default manager for a recording sink and
// restores the original when the test finishes.
func captureDefault(t *testing.T) *mockAlerter {
	t.Helper()
	sink := &mockAlerter{}
	original := GetDefaultManager()
	SetDefaultManager(NewManager(sink))
	t.Cleanup(func() { SetDefaultManager(original) })
	return sink
}

func TestNewManager(t *testing.T) {
	manager := NewManager(&mockAlerter{}, &mockAlerter{})
	if manager == nil {
		t.Fatal("expected a manager")
	}
	if len(manager.alerters) != 2 {
		t.Errorf("expected 2 alerters, got %d", len(manager.alerters))
	}
}

func TestManager_SendStampsTimestampAndKeepsMetadata(t *testing.T) {
	sink := &mockAlerter{}
	manager := NewManager(sink)

	err := manager.Send(context.Background(), Alert{
		Title:    "Feed gone quiet",
		Message:  "sec_rss has produced no items for 24h",
		Severity: SeverityInfo,
		Metadata: map[string]interface{}{"source": "sec_rss", "idle_hours": 24},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(sink.alerts))
	}

	sent := sink.alerts[0]
	if sent.Timestamp.IsZero() {
		t.Error("expected Send to stamp a timestamp")
	}
	if sent.Metadata["source"] != "sec_rss" || sent.Metadata["idle_hours"] != 24 {
		t.Errorf("expected metadata to pass through, got %v", sent.Metadata)
	}
}

func TestManager_SendKeepsExplicitTimestamp(t *testing.T) {
	sink := &mockAlerter{}
	manager := NewManager(sink)

	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := manager.Send(context.Background(), Alert{
		Title:     "Backfilled alert",
		Message:   "replayed from the audit log",
		Severity:  SeverityInfo,
		Timestamp: stamp,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sink.alerts[0].Timestamp.Equal(stamp) {
		t.Errorf("expected the explicit timestamp to survive, got %v", sink.alerts[0].Timestamp)
	}
}

// One failing channel must not starve the others; its error still
// surfaces to the caller.
func TestManager_FanOutDeliversToAllDespiteErrors(t *testing.T) {
	healthy := &mockAlerter{}
	failing := &mockAlerter{err: errors.New("telegram api down")}
	alsoHealthy := &mockAlerter{}
	manager := NewManager(healthy, failing, alsoHealthy)

	err := manager.Send(context.Background(), Alert{
		Title:    "Source muted",
		Message:  "fca_news muted after 5 consecutive failures",
		Severity: SeverityWarning,
	})
	if err == nil {
		t.Error("expected the failing alerter's error to surface")
	}
	for i, sink := range []*mockAlerter{healthy, failing, alsoHealthy} {
		if len(sink.alerts) != 1 {
			t.Errorf("alerter %d: expected 1 alert, got %d", i, len(sink.alerts))
		}
	}
}

func TestManager_SeverityHelpers(t *testing.T) {
	tests := []struct {
		name     string
		send     func(ctx context.Context, m *Manager) error
		severity Severity
	}{
		{"critical", func(ctx context.Context, m *Manager) error {
			return m.SendCritical(ctx, "Emergency rule detected", "trading halt ordered", nil)
		}, SeverityCritical},
		{"warning", func(ctx context.Context, m *Manager) error {
			return m.SendWarning(ctx, "Delivery retries exhausted", "message parked as failed", nil)
		}, SeverityWarning},
		{"info", func(ctx context.Context, m *Manager) error {
			return m.SendInfo(ctx, "Catalog seeded", "12 sources registered", nil)
		}, SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &mockAlerter{}
			if err := tt.send(context.Background(), NewManager(sink)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(sink.alerts) != 1 {
				t.Fatalf("expected 1 alert, got %d", len(sink.alerts))
			}
			if sink.alerts[0].Severity != tt.severity {
				t.Errorf("expected severity %s, got %s", tt.severity, sink.alerts[0].Severity)
			}
		})
	}
}

func TestLogAlerter_Send(t *testing.T) {
	alerter := NewLogAlerter()

	for _, severity := range []Severity{SeverityCritical, SeverityWarning, SeverityInfo} {
		err := alerter.Send(context.Background(), Alert{
			Title:     "Sweep failure",
			Message:   "fetch failed for sec_rss",
			Severity:  severity,
			Timestamp: time.Now(),
			Metadata:  map[string]interface{}{"source": "sec_rss"},
		})
		if err != nil {
			t.Errorf("%s: unexpected error: %v", severity, err)
		}
	}
}

func TestConsoleAlerter_Send(t *testing.T) {
	alerter := NewConsoleAlerter()

	for _, alert := range []Alert{
		{
			Title:     "Source muted",
			Message:   "fca_news muted after repeated failures",
			Severity:  SeverityWarning,
			Timestamp: time.Now(),
			Metadata:  map[string]interface{}{"source": "fca_news", "failures": 5},
		},
		{
			Title:     "No metadata",
			Message:   "bare alert",
			Severity:  SeverityInfo,
			Timestamp: time.Now(),
		},
	} {
		if err := alerter.Send(context.Background(), alert); err != nil {
			t.Errorf("%s: unexpected error: %v", alert.Title, err)
		}
	}
}

func TestDefaultManager_Replaceable(t *testing.T) {
	original := GetDefaultManager()
	if original == nil {
		t.Fatal("expected a default manager out of the box")
	}
	defer SetDefaultManager(original)

	custom := NewManager(&mockAlerter{})
	SetDefaultManager(custom)
	if GetDefaultManager() != custom {
		t.Error("expected the custom manager to take over")
	}
}

func TestAlertCriticalItem(t *testing.T) {
	sink := captureDefault(t)

	AlertCriticalItem(context.Background(), "sec_rss", "Emergency Trading Halt Order",
		"https://www.sec.gov/rules/emergency/2026/34-0001.htm")

	if len(sink.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(sink.alerts))
	}
	alert := sink.alerts[0]
	if alert.Severity != SeverityCritical {
		t.Errorf("expected CRITICAL severity, got %s", alert.Severity)
	}
	if alert.Metadata["source"] != "sec_rss" {
		t.Errorf("expected source sec_rss, got %v", alert.Metadata["source"])
	}
	if alert.Metadata["title"] != "Emergency Trading Halt Order" {
		t.Errorf("expected the item title in metadata, got %v", alert.Metadata["title"])
	}
}

func TestAlertSourceMuted(t *testing.T) {
	sink := captureDefault(t)

	AlertSourceMuted(context.Background(), "fca_news", 5, errors.New("connection timeout"))

	if len(sink.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(sink.alerts))
	}
	alert := sink.alerts[0]
	if alert.Severity != SeverityWarning {
		t.Errorf("expected WARNING severity, got %s", alert.Severity)
	}
	if alert.Metadata["source_id"] != "fca_news" {
		t.Errorf("expected source_id fca_news, got %v", alert.Metadata["source_id"])
	}
	if alert.Metadata["failures"] != 5 {
		t.Errorf("expected failures 5, got %v", alert.Metadata["failures"])
	}
}

func TestAlertSourceMuted_NoError(t *testing.T) {
	sink := captureDefault(t)

	AlertSourceMuted(context.Background(), "esma_api", 5, nil)

	if len(sink.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(sink.alerts))
	}
	if _, ok := sink.alerts[0].Metadata["error"]; ok {
		t.Error("expected no error key in metadata when err is nil")
	}
}

func TestAlertDeliveryExhausted(t *testing.T) {
	sink := captureDefault(t)

	AlertDeliveryExhausted(context.Background(), "msg-42", "TASK_ASSIGNMENT", "compliance-expert", 3)

	if len(sink.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(sink.alerts))
	}
	alert := sink.alerts[0]
	if alert.Severity != SeverityWarning {
		t.Errorf("expected WARNING severity, got %s", alert.Severity)
	}
	if alert.Metadata["message_id"] != "msg-42" {
		t.Errorf("expected message_id msg-42, got %v", alert.Metadata["message_id"])
	}
	if alert.Metadata["attempts"] != 3 {
		t.Errorf("expected attempts 3, got %v", alert.Metadata["attempts"])
	}
}

func TestAlertSystemError(t *testing.T) {
	sink := captureDefault(t)

	AlertSystemError(context.Background(), "monitor", errors.New("database connection lost"))

	if len(sink.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(sink.alerts))
	}
	alert := sink.alerts[0]
	if alert.Severity != SeverityCritical {
		t.Errorf("expected CRITICAL severity, got %s", alert.Severity)
	}
	if alert.Metadata["component"] != "monitor" {
		t.Errorf("expected component monitor, got %v", alert.Metadata["component"])
	}
}

func TestSeverityConstants(t *testing.T) {
	want := map[Severity]string{
		SeverityInfo:     "INFO",
		SeverityWarning:  "WARNING",
		SeverityCritical: "CRITICAL",
	}
	for severity, text := range want {
		if string(severity) != text {
			t.Errorf("expected %q, got %q", text, string(severity))
		}
	}
}
