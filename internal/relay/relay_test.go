package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skald/internal/broadcast"
)

func localRelay(t *testing.T) (*Relay, *broadcast.Broadcaster) {
	t.Helper()
	local := broadcast.New(10)
	r, err := New(Config{URL: ""}, local, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, local
}

func remotePayload(t *testing.T, msg message) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestDisabledRelayDeliversLocally(t *testing.T) {
	r, local := localRelay(t)
	defer r.Close()

	if r.Connected() {
		t.Fatal("disabled relay reports connected")
	}

	sub := local.Subscribe("session-1")
	defer sub.Close()

	r.Publish("session-1", broadcast.NewEnvelope(broadcast.EventQueueUpdate, broadcast.Payload{"queue_size": 2}))

	select {
	case env := <-sub.Events():
		if env.EventType != broadcast.EventQueueUpdate {
			t.Fatalf("event type = %s, want %s", env.EventType, broadcast.EventQueueUpdate)
		}
	case <-time.After(time.Second):
		t.Fatal("local subscriber never received the event")
	}
}

func TestRemoteEventReachesLocalSubscribers(t *testing.T) {
	r, local := localRelay(t)
	defer r.Close()

	sub := local.Subscribe("session-7")
	defer sub.Close()

	data := remotePayload(t, message{
		SchemaVersion: broadcast.SchemaVersion,
		SessionID:     "session-7",
		EventType:     broadcast.EventTrackStarted,
		Data:          broadcast.Payload{"title": "remote tune"},
		NodeID:        "some-other-node",
	})
	r.handleRemote(&nats.Msg{Subject: subjectPrefix + "session-7", Data: data})

	select {
	case env := <-sub.Events():
		if env.EventType != broadcast.EventTrackStarted {
			t.Fatalf("event type = %s, want %s", env.EventType, broadcast.EventTrackStarted)
		}
		if env.Data["title"] != "remote tune" {
			t.Fatalf("data = %v", env.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("remote event never reached local subscriber")
	}
}

func TestOwnNodeEchoSuppressed(t *testing.T) {
	r, local := localRelay(t)
	defer r.Close()

	sub := local.Subscribe("session-7")
	defer sub.Close()

	data := remotePayload(t, message{
		SchemaVersion: broadcast.SchemaVersion,
		SessionID:     "session-7",
		EventType:     broadcast.EventTrackStarted,
		NodeID:        r.NodeID(),
	})
	r.handleRemote(&nats.Msg{Subject: subjectPrefix + "session-7", Data: data})

	select {
	case env := <-sub.Events():
		t.Fatalf("echoed event delivered: %v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRemoteEventWithoutSchemaVersionGetsDefault(t *testing.T) {
	r, local := localRelay(t)
	defer r.Close()

	sub := local.Subscribe("session-3")
	defer sub.Close()

	data := remotePayload(t, message{
		SessionID: "session-3",
		EventType: broadcast.EventNowPlaying,
		NodeID:    "some-other-node",
	})
	r.handleRemote(&nats.Msg{Subject: subjectPrefix + "session-3", Data: data})

	select {
	case env := <-sub.Events():
		if env.SchemaVersion != broadcast.SchemaVersion {
			t.Fatalf("schema version = %q, want %q", env.SchemaVersion, broadcast.SchemaVersion)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestMalformedRemoteEventIgnored(t *testing.T) {
	r, local := localRelay(t)
	defer r.Close()

	sub := local.Subscribe("session-1")
	defer sub.Close()

	r.handleRemote(&nats.Msg{Subject: subjectPrefix + "session-1", Data: []byte("{not json")})

	select {
	case env := <-sub.Events():
		t.Fatalf("malformed event delivered: %v", env)
	case <-time.After(50 * time.Millisecond):
	}
}
