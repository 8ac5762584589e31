package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yourusername/docker-volume-backup/internal/backup"
)

func TestGotifyRetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	payloads := make(chan map[string]string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		payloads <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g := NewGotify(server.URL+"/message?token=abc", 5, time.Millisecond)
	if err := g.Notify(context.Background(), Message{Success: true, Text: "all good"}); err != nil {
		t.Fatalf("expected delivery, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
	payload := <-payloads
	if payload["title"] != "Backup result" || payload["message"] != "all good" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestGotifyGivesUpAfterAttempts(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	g := NewGotify(server.URL, 4, time.Millisecond)
	err := g.Notify(context.Background(), Message{})
	if err == nil || !strings.Contains(err.Error(), "after 4 attempts") {
		t.Fatalf("expected give-up error, got %v", err)
	}
	if attempts.Load() != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts.Load())
	}
}

func TestGotifyStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	g := NewGotify(server.URL, 10, time.Second)
	if err := g.Notify(ctx, Message{Text: "x"}); err == nil {
		t.Fatalf("expected error on cancellation")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancellation should cut the backoff short")
	}
}

func TestDiscordSingleAttempt(t *testing.T) {
	var attempts atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	payloads := make(chan discordPayload, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var payload discordPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		payloads <- payload
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	d := NewDiscord(server.URL)
	if err := d.Notify(context.Background(), Message{Success: false, Text: "/backup (RuntimeError): rsync died"}); err != nil {
		t.Fatalf("expected delivery, got %v", err)
	}
	payload := <-payloads
	if len(payload.Embeds) != 1 || payload.Embeds[0].Title != "Docker backup result" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	fields := payload.Embeds[0].Fields
	if fields[0].Name != "Status" || fields[0].Value != "Failed" || fields[1].Value != "/backup (RuntimeError): rsync died" {
		t.Fatalf("unexpected fields %+v", fields)
	}

	status.Store(http.StatusInternalServerError)
	if err := d.Notify(context.Background(), Message{Success: true}); err == nil {
		t.Fatalf("expected error for a failed webhook")
	}
	if attempts.Load() != 2 {
		t.Fatalf("expected exactly one attempt per message, got %d total", attempts.Load())
	}
	payload = <-payloads
	if payload.Embeds[0].Fields[1].Value != "No message" {
		t.Fatalf("expected placeholder message, got %q", payload.Embeds[0].Fields[1].Value)
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	name     string
	messages []Message
	err      error
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.err
}

func TestDispatcherSendsOutcomesThenSummary(t *testing.T) {
	ok := &recordingNotifier{name: "ok"}
	broken := &recordingNotifier{name: "broken", err: context.DeadlineExceeded}
	d := NewDispatcher(ok, nil, broken)

	start := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	report := &backup.RunReport{
		RunID:        "2024-1-2",
		Destinations: 2,
		StartedAt:    start,
		FinishedAt:   start.Add(90 * time.Second),
		Outcomes: []backup.Outcome{
			backup.Succeeded("/a", "Backup to destination /a completed successfully in 00:01:30", 90*time.Second),
			backup.Succeeded("/b", "Backup to destination /b completed successfully in 00:01:00", time.Minute),
		},
	}

	if err := d.SendReport(context.Background(), report); err == nil {
		t.Fatalf("expected the broken notifier error to surface")
	}
	if len(ok.messages) != 3 || len(broken.messages) != 3 {
		t.Fatalf("expected 2 outcomes + 1 summary per notifier, got %d and %d", len(ok.messages), len(broken.messages))
	}
	last := ok.messages[2]
	if !last.Success || last.Text != "Backup 2024-1-2 completed successfully in 00:01:30" {
		t.Fatalf("unexpected summary %+v", last)
	}
}

func TestFromReportInterrupted(t *testing.T) {
	report := &backup.RunReport{RunID: "2024-1-2", Destinations: 3, Interrupted: true}
	msg := FromReport(report)
	if msg.Success || !strings.Contains(msg.Text, "interrupted") {
		t.Fatalf("unexpected message %+v", msg)
	}

	if NewDispatcher().Enabled() {
		t.Fatalf("empty dispatcher must be disabled")
	}
}
