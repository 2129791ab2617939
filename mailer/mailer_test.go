package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var testBranding = Branding{AppName: "CampusReach", ResetURL: "https://campus.example/reset"}

func TestPasswordResetMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := testBranding.PasswordReset("tok_en-1", now.Add(time.Hour), now)
	if err != nil {
		t.Fatalf("PasswordReset: %v", err)
	}
	if !strings.Contains(msg.Text, "https://campus.example/reset?token=tok_en-1") {
		t.Fatalf("text body missing link:\n%s", msg.Text)
	}
	if !strings.Contains(msg.Text, "1 hour") {
		t.Fatalf("text body missing expiry:\n%s", msg.Text)
	}
	if !strings.Contains(msg.HTML, `href="https://campus.example/reset?token=tok_en-1"`) {
		t.Fatalf("html body missing link:\n%s", msg.HTML)
	}
}

func TestHumanDuration(t *testing.T) {
	tests := map[time.Duration]string{
		time.Hour:        "1 hour",
		3 * time.Hour:    "3 hours",
		90 * time.Minute: "90 minutes",
		time.Minute:      "1 minute",
		10 * time.Second: "less than a minute",
	}
	for d, want := range tests {
		if got := humanDuration(d); got != want {
			t.Errorf("humanDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestSendGridPostsMessage(t *testing.T) {
	var gotAuth string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg, err := NewSendGrid(SendGridConfig{
		APIKey:      "SG.test",
		FromName:    "CampusReach",
		FromAddress: "noreply@campus.example",
		Branding:    testBranding,
		Host:        srv.URL,
	})
	if err != nil {
		t.Fatalf("NewSendGrid: %v", err)
	}

	if err := sg.SendPasswordReset(context.Background(), "alice@campus.edu", "abc", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if gotAuth != "Bearer SG.test" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	raw, _ := json.Marshal(body)
	if !bytes.Contains(raw, []byte("alice@campus.edu")) || !bytes.Contains(raw, []byte("token=abc")) {
		t.Fatalf("request body = %s", raw)
	}
}

func TestSendGridReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sg, err := NewSendGrid(SendGridConfig{APIKey: "bad", FromAddress: "noreply@campus.example", Branding: testBranding, Host: srv.URL})
	if err != nil {
		t.Fatalf("NewSendGrid: %v", err)
	}
	if err := sg.SendPasswordChanged(context.Background(), "alice@campus.edu"); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
}

func TestNewSendGridValidates(t *testing.T) {
	if _, err := NewSendGrid(SendGridConfig{FromAddress: "a@b.c", Branding: testBranding}); err == nil {
		t.Fatal("missing API key accepted")
	}
	if _, err := NewSendGrid(SendGridConfig{APIKey: "k", FromAddress: "a@b.c"}); err == nil {
		t.Fatal("missing reset URL accepted")
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := LogSender{Logger: log.New(&buf, "", 0), Branding: testBranding}
	if err := s.SendPasswordReset(context.Background(), "alice@campus.edu", "xyz", time.Now()); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if !strings.Contains(buf.String(), "token=xyz") {
		t.Fatalf("log = %q", buf.String())
	}
}
