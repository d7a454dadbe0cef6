package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/recapify/internal/config"
	"github.com/loqalabs/recapify/internal/natsserver"
	"github.com/loqalabs/recapify/internal/protocol"
	"github.com/nats-io/nats.go"
)

func TestPublishJobEventThroughEmbeddedServer(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}
	if err := client.EnsureJobStream(time.Hour); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	if err := client.EnsureJobStream(time.Hour); err != nil {
		t.Fatalf("ensure stream is idempotent: %v", err)
	}

	msgs := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectAll, msgs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	evt := protocol.JobEvent{JobID: "job-9", Type: protocol.EventTranscriptReady, TranscriptChars: 42, Timestamp: time.Now().UTC()}
	if err := client.PublishJobEvent(evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Subject != "recap.transcript.ready" {
			t.Fatalf("unexpected subject %s", msg.Subject)
		}
		var got protocol.JobEvent
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.JobID != "job-9" || got.TranscriptChars != 42 {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for job event")
	}
}

func TestNilClientPublishIsNoop(t *testing.T) {
	var c *Client
	if err := c.PublishJobEvent(protocol.JobEvent{Type: protocol.EventJobStarted}); err != nil {
		t.Fatalf("nil client publish: %v", err)
	}
	if c.Healthy() {
		t.Fatal("nil client should not be healthy")
	}
}
