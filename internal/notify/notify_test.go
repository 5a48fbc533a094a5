package notify

import (
	"context"
	"testing"

	"github.com/avaropoint/espota/internal/store"
)

func TestSubject(t *testing.T) {
	if got := Subject("espota.events", store.KindDownload); got != "espota.events.download" {
		t.Fatalf("Subject = %q", got)
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), store.NewEvent(store.KindPublish, "esp")); err != nil {
		t.Fatal(err)
	}
	p.Close()
}

func TestClosedPublisherRejects(t *testing.T) {
	p := &NATSPublisher{prefix: "x"}
	if err := p.Publish(context.Background(), store.NewEvent(store.KindPublish, "esp")); err == nil {
		t.Fatal("expected error without a connection")
	}
}
