package bus

import (
	"testing"

	"CrashPilot/internal/domain/models"
)

func TestPublishFanOutInOrder(t *testing.T) {
	b := New(nil, nil)
	var got []string
	b.Subscribe("a", func(m models.BusMessage) { got = append(got, "a:"+string(m.Type)) })
	b.Subscribe("b", func(m models.BusMessage) { got = append(got, "b:"+string(m.Type)) })

	b.Publish(models.NewRoundMessage(models.RoundEvent{ID: 1, SourceID: "s1", Multiplier: 1.5}))
	if len(got) != 2 || got[0] != "a:round" || got[1] != "b:round" {
		t.Fatalf("unexpected delivery %v", got)
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := New(nil, nil)
	delivered := 0
	b.Subscribe("bad", func(models.BusMessage) { panic("boom") })
	b.Subscribe("good", func(models.BusMessage) { delivered++ })

	b.Publish(models.NewSignalClearedMessage("s1", 7))
	if delivered != 1 {
		t.Fatalf("good subscriber should still receive, got %d", delivered)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil, nil)
	n := 0
	unsub := b.Subscribe("x", func(models.BusMessage) { n++ })
	b.Publish(models.BusMessage{Type: models.MessageRound})
	unsub()
	unsub()
	b.Publish(models.BusMessage{Type: models.MessageRound})
	if n != 1 || b.Len() != 0 {
		t.Fatalf("expected one delivery and no subscribers, got n=%d len=%d", n, b.Len())
	}
}

func TestRoundPayload(t *testing.T) {
	msg := models.NewRoundMessage(models.RoundEvent{ID: 3, SourceID: "s1", Multiplier: 2.4})
	e, ok := msg.Round()
	if !ok || e.ID != 3 {
		t.Fatalf("expected round payload, got %+v %v", e, ok)
	}
	if _, ok := models.NewSignalClearedMessage("s1", 1).Round(); ok {
		t.Fatalf("signal_cleared is not a round")
	}
}
