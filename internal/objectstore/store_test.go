package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func disabledStore(t *testing.T, opts Options) *Store {
	t.Helper()
	opts.Bucket = ""
	s, err := New(context.Background(), opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"with prefix", "opus", "opus/track-1.opus"},
		{"prefix with slashes trimmed", "/opus/cache/", "opus/cache/track-1.opus"},
		{"empty prefix", "", "track-1.opus"},
		{"slash only prefix", "/", "track-1.opus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := disabledStore(t, Options{Prefix: tt.prefix})
			if got := s.ObjectKey("track-1"); got != tt.want {
				t.Fatalf("ObjectKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPublicURL(t *testing.T) {
	s := disabledStore(t, Options{PublicBaseURL: "https://cdn.example.com/media/"})
	got := s.PublicURL("opus/track-1.opus")
	want := "https://cdn.example.com/media/opus/track-1.opus"
	if got != want {
		t.Fatalf("PublicURL = %q, want %q", got, want)
	}

	s = disabledStore(t, Options{})
	if got := s.PublicURL("opus/track-1.opus"); got != "" {
		t.Fatalf("PublicURL without base = %q, want empty", got)
	}
}

func TestDisabledStore(t *testing.T) {
	s := disabledStore(t, Options{ObjectTTL: time.Hour})
	ctx := context.Background()

	if s.Enabled() {
		t.Fatal("store without bucket should be disabled")
	}

	fresh, err := s.IsFresh(ctx, "opus/track-1.opus")
	if err != nil {
		t.Fatalf("IsFresh: %v", err)
	}
	if fresh {
		t.Fatal("disabled store should always report stale")
	}

	if err := s.Delete(ctx, "opus/track-1.opus"); err != nil {
		t.Fatalf("Delete on disabled store should be a no-op: %v", err)
	}
	if err := s.CheckAccess(ctx); err != nil {
		t.Fatalf("CheckAccess on disabled store should be a no-op: %v", err)
	}

	if err := s.Upload(ctx, "/tmp/x.opus", "opus/track-1.opus"); err == nil {
		t.Fatal("Upload on disabled store should fail")
	}
	if _, err := s.AccessURL(ctx, "opus/track-1.opus"); err == nil {
		t.Fatal("AccessURL without public base on disabled store should fail")
	}
}

func TestAccessURLPrefersPublicBase(t *testing.T) {
	s := disabledStore(t, Options{PublicBaseURL: "https://cdn.example.com"})
	got, err := s.AccessURL(context.Background(), "opus/track-1.opus")
	if err != nil {
		t.Fatalf("AccessURL: %v", err)
	}
	if got != "https://cdn.example.com/opus/track-1.opus" {
		t.Fatalf("AccessURL = %q", got)
	}
}
