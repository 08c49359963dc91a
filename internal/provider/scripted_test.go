package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestScriptedRespondsByMatch(t *testing.T) {
	p := NewScripted()
	p.Respond("weather", "sunny all week")

	c, err := p.Complete(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "what is the weather?"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.Text != "sunny all week" {
		t.Fatalf("unexpected text: %q", c.Text)
	}
	if c.Usage.TotalTokens == 0 {
		t.Fatal("expected nonzero usage")
	}
}

func TestScriptedFailure(t *testing.T) {
	p := NewScripted()
	p.FailWith(&Error{Kind: ErrKindRateLimited, Message: "slow down"})

	_, err := p.Complete(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != ErrKindRateLimited {
		t.Fatalf("expected rate-limited provider error, got %v", err)
	}
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	p := NewScripted()
	p.Respond("hello", "one two three")

	var parts []string
	done := false
	c, err := p.Stream(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "hello"}}}, func(ch Chunk) {
		if ch.Done {
			done = true
			return
		}
		parts = append(parts, ch.Text)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !done {
		t.Fatal("expected done chunk")
	}
	if strings.Join(parts, "") != c.Text {
		t.Fatalf("chunks %q do not reassemble to %q", strings.Join(parts, ""), c.Text)
	}
}

func TestEmbedDeterministic(t *testing.T) {
	p := NewScripted()
	a, err := p.Embed(context.Background(), "ship the release notes")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, _ := p.Embed(context.Background(), "ship the release notes")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d: %v vs %v", i, a[i], b[i])
		}
	}
}
