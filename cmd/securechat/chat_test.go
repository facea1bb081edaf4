package main

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingComposer struct {
	calls   []string
	sendErr error
}

func (r *recordingComposer) InputChanged() { r.calls = append(r.calls, "typing") }

func (r *recordingComposer) Send(_ context.Context, content string) (bool, error) {
	r.calls = append(r.calls, "send:"+content)
	return r.sendErr == nil, r.sendErr
}

func TestSubmitAnnouncesTypingBeforeSend(t *testing.T) {
	c := &recordingComposer{}
	if err := submit(context.Background(), c, "hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := strings.Join(c.calls, ","); got != "typing,send:hello" {
		t.Fatalf("calls = %s", got)
	}
}

func TestSubmitReturnsSendError(t *testing.T) {
	c := &recordingComposer{sendErr: errors.New("offline")}
	if err := submit(context.Background(), c, "hello"); err == nil || err.Error() != "offline" {
		t.Fatalf("expected send error, got %v", err)
	}
}
