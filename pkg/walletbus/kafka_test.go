package walletbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := NewPublisher(Config{Topic: "t"}); err == nil {
		t.Fatalf("expected error for missing brokers")
	}
	if _, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected error for missing topic")
	}
	p, err := NewPublisher(Config{Brokers: []string{" localhost:9092 ", ""}, Topic: "wallet-events"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer p.Close()
}

func TestPublishKeysByIdentity(t *testing.T) {
	fw := &fakeWriter{}
	p := &Publisher{writer: fw}

	err := p.Publish(context.Background(), Event{
		Kind:      "wallet_created",
		Identity:  "user-1",
		WalletID:  "w-1",
		Address:   "0xabc",
		ChainType: "ethereum",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("message count: got %d want 1", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "user-1" {
		t.Fatalf("key: got %s want user-1", fw.msgs[0].Key)
	}
	var evt Event
	if err := json.Unmarshal(fw.msgs[0].Value, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.WalletID != "w-1" || evt.Kind != "wallet_created" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.At == "" {
		t.Fatalf("timestamp not stamped")
	}
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	if err := p.Publish(context.Background(), Event{Identity: "user-1"}); err != nil {
		t.Fatalf("nil publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
