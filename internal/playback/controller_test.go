package playback

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald/internal/broadcast"
	"github.com/friendsincode/skald/internal/session"
)

type fakeConn struct {
	mu      sync.Mutex
	active  bool
	playErr error
	played  []Source
}

func (f *fakeConn) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeConn) Play(src Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.active = true
	f.played = append(f.played, src)
	return nil
}

func (f *fakeConn) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
}

func (f *fakeConn) setActive(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = v
}

type fakeSource struct {
	url string

	mu       sync.Mutex
	started  bool
	stops    int
	onExit   func(error)
	startErr error
}

func (f *fakeSource) URL() string { return f.url }

func (f *fakeSource) Start(onExit func(err error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.onExit = onExit
	return nil
}

func (f *fakeSource) Stream() io.Reader { return strings.NewReader("") }

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSource) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// finish simulates the subprocess exiting, invoking the registered hook
// the way the exit monitor would.
func (f *fakeSource) finish(err error) {
	f.mu.Lock()
	hook := f.onExit
	f.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []broadcast.EventType
}

func (r *eventRecorder) record(event broadcast.EventType, data broadcast.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) has(event broadcast.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type testRig struct {
	controller *Controller
	sess       *session.Session
	conn       *fakeConn
	sources    []*fakeSource
	events     *eventRecorder
	announced  []session.Track
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		sess:   session.New("community-1", time.Minute, 0),
		conn:   &fakeConn{},
		events: &eventRecorder{},
	}
	factory := func(url string, _ zerolog.Logger) (Source, error) {
		src := &fakeSource{url: url}
		rig.sources = append(rig.sources, src)
		return src, nil
	}
	hooks := Hooks{
		Announce: func(track session.Track) {
			rig.announced = append(rig.announced, track)
		},
		Publish: rig.events.record,
	}
	rig.controller = NewController("community-1", rig.sess, factory, hooks, zerolog.Nop())
	return rig
}

func queuedTrack(title string) session.Track {
	return session.Track{
		TrackID:  title + "-id",
		Title:    title,
		AudioURL: "https://cdn.example.com/" + title + ".mp3",
	}
}

func TestPlayNextStartsQueuedTrack(t *testing.T) {
	rig := newTestRig(t)
	rig.sess.Enqueue(queuedTrack("first"))

	track, err := rig.controller.PlayNext(rig.conn)
	if err != nil {
		t.Fatalf("PlayNext: %v", err)
	}
	if track == nil || track.Title != "first" {
		t.Fatalf("track = %+v, want first", track)
	}
	if len(rig.sources) != 1 || !rig.sources[0].started {
		t.Fatal("source should have been built and started")
	}
	if len(rig.conn.played) != 1 {
		t.Fatalf("connection played %d sources, want 1", len(rig.conn.played))
	}
	if _, _, ok := rig.sess.NowPlaying(); !ok {
		t.Fatal("session should report now playing")
	}
	if !rig.events.has(broadcast.EventTrackStarted) {
		t.Fatal("track_started event not published")
	}
	if !rig.events.has(broadcast.EventQueueUpdate) {
		t.Fatal("queue_update event not published")
	}
}

func TestPlayNextNoOpWhenConnectionActive(t *testing.T) {
	rig := newTestRig(t)
	rig.sess.Enqueue(queuedTrack("first"))
	rig.conn.setActive(true)

	track, err := rig.controller.PlayNext(rig.conn)
	if err != nil {
		t.Fatalf("PlayNext: %v", err)
	}
	if track != nil {
		t.Fatalf("track = %+v, want nil while connection active", track)
	}
	if rig.sess.QueueSize() != 1 {
		t.Fatal("queue should be untouched")
	}
}

func TestPlayNextEmptyQueue(t *testing.T) {
	rig := newTestRig(t)

	track, err := rig.controller.PlayNext(rig.conn)
	if err != nil {
		t.Fatalf("PlayNext: %v", err)
	}
	if track != nil {
		t.Fatalf("track = %+v, want nil on empty queue", track)
	}
}

func TestPlayNextRejectsInvalidURL(t *testing.T) {
	rig := newTestRig(t)
	rig.sess.Enqueue(session.Track{
		Title:    "landing",
		AudioURL: "https://suno.com/song/abc123",
	})

	track, err := rig.controller.PlayNext(rig.conn)
	if err != nil {
		t.Fatalf("PlayNext should swallow validation failures: %v", err)
	}
	if track != nil {
		t.Fatalf("track = %+v, want nil for invalid url", track)
	}
	if len(rig.sources) != 0 {
		t.Fatal("no source should be built for an invalid url")
	}
	if _, _, ok := rig.sess.NowPlaying(); ok {
		t.Fatal("session should not report now playing")
	}
}

func TestPlayNextPrefersOpusArtifact(t *testing.T) {
	rig := newTestRig(t)
	rig.sess.Enqueue(session.Track{
		Title:    "ready",
		AudioURL: "https://cdn.example.com/ready.mp3",
		OpusURL:  "https://cdn.example.com/opus/ready.opus",
	})

	if _, err := rig.controller.PlayNext(rig.conn); err != nil {
		t.Fatalf("PlayNext: %v", err)
	}
	if rig.sources[0].url != "https://cdn.example.com/opus/ready.opus" {
		t.Fatalf("source url = %q, want opus artifact", rig.sources[0].url)
	}
}

func TestStopTearsDownSource(t *testing.T) {
	rig := newTestRig(t)
	rig.sess.Enqueue(queuedTrack("first"))
	if _, err := rig.controller.PlayNext(rig.conn); err != nil {
		t.Fatalf("PlayNext: %v", err)
	}

	rig.controller.Stop(rig.conn)

	if rig.conn.IsActive() {
		t.Fatal("connection should be stopped")
	}
	if rig.sources[0].stopCount() == 0 {
		t.Fatal("source should be torn down")
	}
	if _, _, ok := rig.sess.NowPlaying(); ok {
		t.Fatal("session should not report now playing after stop")
	}
}

func TestSkipStartsNextTrack(t *testing.T) {
	rig := newTestRig(t)
	rig.sess.Enqueue(queuedTrack("first"))
	rig.sess.Enqueue(queuedTrack("second"))
	if _, err := rig.controller.PlayNext(rig.conn); err != nil {
		t.Fatalf("PlayNext: %v", err)
	}

	track, err := rig.controller.Skip(rig.conn)
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if track == nil || track.Title != "second" {
		t.Fatalf("track = %+v, want second", track)
	}
	if rig.sources[0].stopCount() == 0 {
		t.Fatal("first source should be torn down")
	}
	if !rig.sources[1].started {
		t.Fatal("second source should be started")
	}
}

func TestStaleSourceExitIgnored(t *testing.T) {
	rig := newTestRig(t)
	rig.sess.Enqueue(queuedTrack("first"))
	rig.sess.Enqueue(queuedTrack("second"))
	if _, err := rig.controller.PlayNext(rig.conn); err != nil {
		t.Fatalf("PlayNext: %v", err)
	}
	if _, err := rig.controller.Skip(rig.conn); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	// The replaced source's exit hook fires late.
	rig.sources[0].finish(errors.New("killed"))

	now, _, ok := rig.sess.NowPlaying()
	if !ok || now.Title != "second" {
		t.Fatalf("now playing = %+v ok=%v, want second still playing", now, ok)
	}
	if rig.sources[1].stopCount() != 0 {
		t.Fatal("current source should be untouched by a stale exit")
	}
}

func TestNaturalEndWithContinuation(t *testing.T) {
	rig := newTestRig(t)
	rig.sess.SetAutoplayUnlimited()
	rig.sess.Enqueue(queuedTrack("first"))
	rig.sess.Enqueue(queuedTrack("second"))

	if _, err := rig.controller.PlayNext(rig.conn); err != nil {
		t.Fatalf("PlayNext: %v", err)
	}

	// Natural end: delivery stops, then the exit hook fires.
	rig.conn.setActive(false)
	rig.sources[0].finish(nil)

	now, _, ok := rig.sess.NowPlaying()
	if !ok || now.Title != "second" {
		t.Fatalf("now playing = %+v ok=%v, want second via continuation", now, ok)
	}
	if len(rig.announced) != 1 || rig.announced[0].Title != "second" {
		t.Fatalf("announced = %+v, want second announced once", rig.announced)
	}
	if !rig.events.has(broadcast.EventTrackEnded) {
		t.Fatal("track_ended event not published")
	}
}

func TestNaturalEndWithoutContinuation(t *testing.T) {
	rig := newTestRig(t)
	rig.sess.Enqueue(queuedTrack("first"))
	rig.sess.Enqueue(queuedTrack("second"))

	if _, err := rig.controller.PlayNext(rig.conn); err != nil {
		t.Fatalf("PlayNext: %v", err)
	}

	rig.conn.setActive(false)
	rig.sources[0].finish(nil)

	if _, _, ok := rig.sess.NowPlaying(); ok {
		t.Fatal("nothing should be playing without autoplay or dj mode")
	}
	if len(rig.announced) != 0 {
		t.Fatalf("announced = %+v, want none", rig.announced)
	}
	if rig.sess.QueueSize() != 1 {
		t.Fatalf("queue size = %d, want second still queued", rig.sess.QueueSize())
	}
}

func TestRegistryReturnsSameController(t *testing.T) {
	sessions := session.NewRegistry(time.Minute, 0)
	factory := func(url string, _ zerolog.Logger) (Source, error) {
		return &fakeSource{url: url}, nil
	}
	reg := NewRegistry(sessions, factory, broadcast.New(8), nil, zerolog.Nop())

	a := reg.ForCommunity("community-1")
	b := reg.ForCommunity("community-1")
	if a != b {
		t.Fatal("same community should share one controller")
	}
	if c := reg.ForCommunity("community-2"); c == a {
		t.Fatal("different communities should get distinct controllers")
	}

	if _, ok := reg.Peek("community-1"); !ok {
		t.Fatal("Peek should find an existing controller")
	}
	if _, ok := reg.Peek("community-3"); ok {
		t.Fatal("Peek should not create controllers")
	}

	if a.Session() != sessions.ForCommunity("community-1") {
		t.Fatal("controller should be bound to the community session")
	}
}
