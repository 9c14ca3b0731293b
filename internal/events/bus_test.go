package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/pwtexture/internal/relay"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan SourceAddedEvent, 1)

	unsub := bus.Subscribe(func(e SourceAddedEvent) {
		received <- e
	})
	defer unsub()

	event := SourceAddedEvent{
		Source:    relay.SourceInfo{ID: 57, Name: "v4l2_input.usb-cam", MediaClass: "Video/Source"},
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.Source.ID != event.Source.ID {
		t.Errorf("Expected source %d, got %d", event.Source.ID, got.Source.ID)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan TextureConnectedEvent, 1)
	received2 := make(chan TextureConnectedEvent, 1)

	unsub1 := bus.Subscribe(func(e TextureConnectedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e TextureConnectedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(TextureConnectedEvent{Handle: 1, SourceID: 57})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan SourceRemovedEvent, 1)

	unsub := bus.Subscribe(func(e SourceRemovedEvent) {
		received <- e
	})

	bus.Publish(SourceRemovedEvent{SourceID: 57})
	<-received

	unsub()

	bus.Publish(SourceRemovedEvent{SourceID: 58})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	addedReceived := make(chan bool, 1)
	formatReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ SourceAddedEvent) {
		addedReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ TextureFormatChangedEvent) {
		formatReceived <- true
	})
	defer unsub2()

	bus.Publish(SourceAddedEvent{Source: relay.SourceInfo{ID: 1}})
	<-addedReceived

	select {
	case <-formatReceived:
		t.Fatal("Format subscriber should NOT have received SourceAddedEvent")
	case <-time.After(10 * time.Millisecond):
	}

	bus.Publish(TextureFormatChangedEvent{SourceID: 1, Width: 640, Height: 480})
	<-formatReceived

	select {
	case <-addedReceived:
		t.Fatal("Source subscriber should NOT have received TextureFormatChangedEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ SourceStatsEvent) {
		receivedCh <- true
	})
	defer unsub()

	for i := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(SourceStatsEvent{EventType: "source_stats", SourceID: uint32(i)})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"SourceAdded", SourceAddedEvent{Source: relay.SourceInfo{ID: 1}}},
		{"SourceRemoved", SourceRemovedEvent{SourceID: 1}},
		{"TextureConnected", TextureConnectedEvent{Handle: 1, SourceID: 1}},
		{"TextureDisconnected", TextureDisconnectedEvent{Handle: 1, SourceID: 1}},
		{"TextureFormatChanged", TextureFormatChangedEvent{SourceID: 1}},
		{"SourceStats", SourceStatsEvent{EventType: "source_stats"}},
		{"LogEntry", LogEntryEvent{Seq: 1, Message: "hello"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case SourceAddedEvent:
				unsub = bus.Subscribe(func(e SourceAddedEvent) { received <- e })
			case SourceRemovedEvent:
				unsub = bus.Subscribe(func(e SourceRemovedEvent) { received <- e })
			case TextureConnectedEvent:
				unsub = bus.Subscribe(func(e TextureConnectedEvent) { received <- e })
			case TextureDisconnectedEvent:
				unsub = bus.Subscribe(func(e TextureDisconnectedEvent) { received <- e })
			case TextureFormatChangedEvent:
				unsub = bus.Subscribe(func(e TextureFormatChangedEvent) { received <- e })
			case SourceStatsEvent:
				unsub = bus.Subscribe(func(e SourceStatsEvent) { received <- e })
			case LogEntryEvent:
				unsub = bus.Subscribe(func(e LogEntryEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestBus_UnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	if unsub == nil {
		t.Fatal("Subscribe returned nil for an unknown handler type")
	}
	unsub()
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name  string
		event any
		key   string
	}{
		{
			"SourceAddedEvent",
			SourceAddedEvent{Source: relay.SourceInfo{ID: 57, MediaClass: "Video/Source"}, Timestamp: "2025-01-27T10:30:00Z"},
			"source",
		},
		{
			"TextureFormatChangedEvent",
			TextureFormatChangedEvent{SourceID: 57, Width: 1280, Height: 720, PixelFormat: "RGBA8"},
			"pixel_format",
		},
		{
			"TextureDisconnectedEvent",
			TextureDisconnectedEvent{Handle: 3, SourceID: 57},
			"handle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if _, ok := result[tt.key]; !ok {
				t.Errorf("Expected key %q in %s", tt.key, data)
			}
		})
	}
}

func TestFeedDeliversFollowedTypes(t *testing.T) {
	bus := New()
	feed := Follow[SourceRemovedEvent](NewFeed(bus, 10))
	defer feed.Close()

	bus.Publish(TextureConnectedEvent{Handle: 1})
	bus.Publish(SourceRemovedEvent{SourceID: 9})

	select {
	case received := <-feed.C():
		removed, ok := received.(SourceRemovedEvent)
		if !ok {
			t.Fatalf("Expected SourceRemovedEvent, got %T", received)
		}
		if removed.SourceID != 9 {
			t.Errorf("Expected source 9, got %d", removed.SourceID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestFeedFollowLifecycle(t *testing.T) {
	bus := New()
	feed := FollowLifecycle(NewFeed(bus, 10))
	defer feed.Close()

	bus.Publish(SourceAddedEvent{Source: relay.SourceInfo{ID: 1}})
	bus.Publish(SourceRemovedEvent{SourceID: 1})
	bus.Publish(TextureConnectedEvent{Handle: 2})
	bus.Publish(TextureDisconnectedEvent{Handle: 2})
	bus.Publish(TextureFormatChangedEvent{SourceID: 2})
	bus.Publish(SourceStatsEvent{SourceID: 1})

	seen := make(map[uint32]bool)
	deadline := time.After(time.Second)
	for len(seen) < 5 {
		select {
		case e := <-feed.C():
			seen[e.(Event).Type()] = true
		case <-deadline:
			t.Fatalf("received %d event types, want 5", len(seen))
		}
	}
	select {
	case e := <-feed.C():
		t.Errorf("unexpected %T on lifecycle feed", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedDropsWhenFull(t *testing.T) {
	bus := New()
	feed := Follow[TextureConnectedEvent](NewFeed(bus, 0))
	defer feed.Close()

	done := make(chan struct{})
	go func() {
		bus.Publish(TextureConnectedEvent{Handle: 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full feed")
	}

	deadline := time.Now().Add(time.Second)
	for feed.Dropped() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Dropped() = %d, want 1", feed.Dropped())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFeedClose(t *testing.T) {
	bus := New()
	feed := Follow[SourceAddedEvent](NewFeed(bus, 10))
	feed.Close()
	feed.Close()

	bus.Publish(SourceAddedEvent{})
	select {
	case e := <-feed.C():
		t.Errorf("received %T after Close", e)
	case <-time.After(50 * time.Millisecond):
	}
}
