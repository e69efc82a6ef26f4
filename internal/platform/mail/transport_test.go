package mail

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oakmart/api/internal/services"
)

func TestLogTransportSendRecordsMessage(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	transport, err := NewLogTransport(zap.New(core), "orders@oakmart.example")
	if err != nil {
		t.Fatalf("new log transport: %v", err)
	}

	err = transport.Send(context.Background(), services.MailMessage{
		To:       []string{"jo@example.com"},
		Subject:  "Order ord_1 received",
		HTMLBody: "<p>hi</p>",
		TextBody: "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["subject"] != "Order ord_1 received" {
		t.Fatalf("unexpected subject field %v", fields["subject"])
	}
}

func TestLogTransportSendRequiresRecipient(t *testing.T) {
	transport, err := NewLogTransport(zap.NewNop(), "")
	if err != nil {
		t.Fatalf("new log transport: %v", err)
	}
	if err := transport.Send(context.Background(), services.MailMessage{}); err == nil {
		t.Fatalf("expected error without recipients")
	}
}

func TestNewLogTransportRequiresLogger(t *testing.T) {
	if _, err := NewLogTransport(nil, ""); err == nil {
		t.Fatalf("expected error without logger")
	}
}
