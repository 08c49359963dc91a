package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.ActionType != "send-email" {
			t.Errorf("wrong action type: %q", req.ActionType)
		}
		fmt.Fprint(w, `{"output":{"message_id":"m-1"}}`)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL)
	res, err := wh.Execute(context.Background(), "send-email", map[string]any{"to": "a@b.c"}, time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Output["message_id"] != "m-1" {
		t.Fatalf("wrong output: %+v", res.Output)
	}
}

func TestWebhookExecuteErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"smtp unreachable"}`)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL)
	_, err := wh.Execute(context.Background(), "send-email", nil, time.Second)
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected action error, got %v", err)
	}
	if ae.Message != "smtp unreachable" {
		t.Fatalf("wrong message: %q", ae.Message)
	}
}

func TestWebhookExecuteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL)
	_, err := wh.Execute(context.Background(), "send-email", nil, 20*time.Millisecond)
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected action error, got %v", err)
	}
}
