package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegram_Send(t *testing.T) {
	var gotPath string
	var gotBody struct {
		ChatID    int64  `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", 42, nil).WithBaseURL(srv.URL)
	if err := tg.Send(context.Background(), "Trade Done", "BTC-MOVE filled"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if gotPath != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.ChatID != 42 {
		t.Errorf("chat_id = %d, want 42", gotBody.ChatID)
	}
	if gotBody.Text != "*Trade Done*\nBTC-MOVE filled" {
		t.Errorf("text = %q", gotBody.Text)
	}
	if gotBody.ParseMode != "Markdown" {
		t.Errorf("parse_mode = %q", gotBody.ParseMode)
	}
}

func TestTelegram_SendToOtherChat(t *testing.T) {
	var gotChat int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChatID int64 `json:"chat_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotChat = body.ChatID
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", 42, nil).WithBaseURL(srv.URL)
	if err := tg.SendTo(context.Background(), 99, "reply"); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	if gotChat != 99 {
		t.Errorf("chat_id = %d, want 99", gotChat)
	}
}

func TestTelegram_SendBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", 42, nil).WithBaseURL(srv.URL)
	err := tg.Send(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error %q missing status or body", err)
	}
}

func TestTelegram_Poll(t *testing.T) {
	var gotOffset string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOffset = r.URL.Query().Get("offset")
		fmt.Fprint(w, `{"ok":true,"result":[
			{"update_id":7,"message":{"from":{"id":11},"chat":{"id":22},"text":"/status"}},
			{"update_id":8}
		]}`)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", 42, nil).WithBaseURL(srv.URL)
	updates, err := tg.Poll(context.Background(), 5)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if gotOffset != "5" {
		t.Errorf("offset = %q, want 5", gotOffset)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	first := updates[0]
	if first.ID != 7 || first.UserID != 11 || first.ChatID != 22 || first.Text != "/status" {
		t.Errorf("first update = %+v", first)
	}
	if updates[1].Text != "" {
		t.Errorf("message-less update carried text %q", updates[1].Text)
	}
}

func TestTelegram_PollRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"description":"unauthorized"}`)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", 42, nil).WithBaseURL(srv.URL)
	if _, err := tg.Poll(context.Background(), 0); err == nil || !strings.Contains(err.Error(), "unauthorized") {
		t.Errorf("err = %v, want rejection with description", err)
	}
}

func TestTelegram_ListenAdvancesOffset(t *testing.T) {
	var offsets []string
	batch := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))
		batch++
		switch batch {
		case 1:
			fmt.Fprint(w, `{"ok":true,"result":[{"update_id":7,"message":{"from":{"id":11},"chat":{"id":22},"text":"first"}}]}`)
		case 2:
			fmt.Fprint(w, `{"ok":true,"result":[{"update_id":9,"message":{"from":{"id":11},"chat":{"id":22},"text":"second"}}]}`)
		default:
			fmt.Fprint(w, `{"ok":true,"result":[]}`)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	tg := NewTelegram("TOKEN", 42, nil).WithBaseURL(srv.URL)
	err := tg.Listen(ctx, func(u Update) {
		seen = append(seen, u.Text)
		if u.Text == "second" {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Listen returned %v, want context.Canceled", err)
	}

	if len(seen) != 2 || seen[0] != "first" || seen[1] != "second" {
		t.Errorf("handled updates = %v", seen)
	}
	if len(offsets) < 2 || offsets[0] != "0" || offsets[1] != "8" {
		t.Errorf("offsets = %v, want [0 8 ...]", offsets)
	}
}
