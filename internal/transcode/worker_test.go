package transcode

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/skald/internal/models"
	"github.com/friendsincode/skald/internal/opuscache"
)

type fakeStorage struct {
	enabled  bool
	fresh    bool
	freshErr error

	uploads   []string
	uploadErr error
	url       string
}

func (f *fakeStorage) Enabled() bool { return f.enabled }

func (f *fakeStorage) ObjectKey(trackID string) string { return "opus/" + trackID + ".opus" }

func (f *fakeStorage) IsFresh(ctx context.Context, objectKey string) (bool, error) {
	return f.fresh, f.freshErr
}

func (f *fakeStorage) Upload(ctx context.Context, localPath, objectKey string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, objectKey)
	return nil
}

func (f *fakeStorage) AccessURL(ctx context.Context, objectKey string) (string, error) {
	return f.url, nil
}

type workerRig struct {
	worker *Worker
	store  *Store
	cache  *opuscache.Cache
	track  *models.Track
	job    *models.OpusJob
}

func newWorkerRig(t *testing.T, storage ObjectStorage) *workerRig {
	t.Helper()

	store := NewStore(openTestDB(t))
	cache := opuscache.New(t.TempDir(), time.Hour, zerolog.Nop())
	worker := NewWorker(store, cache, storage, WorkerConfig{PollInterval: time.Millisecond}, zerolog.Nop())

	// Stand-ins for the network and the encoder.
	worker.download = func(ctx context.Context, sourceURL, destPath string) error {
		return os.WriteFile(destPath, []byte("mp3-bytes"), 0644)
	}
	worker.encode = func(ctx context.Context, ffmpegPath, inputPath, outputPath string) error {
		return os.WriteFile(outputPath, []byte("opus-bytes"), 0644)
	}

	track := models.NewTrack("Song", "Artist", "https://cdn.example.com/song.mp3")
	if err := store.db.Create(track).Error; err != nil {
		t.Fatalf("seed track: %v", err)
	}
	job, err := store.Enqueue(context.Background(), track.ID, track.SourceURL)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	return &workerRig{worker: worker, store: store, cache: cache, track: track, job: job}
}

func (r *workerRig) reloadTrack(t *testing.T) *models.Track {
	t.Helper()
	var track models.Track
	if err := r.store.db.First(&track, "id = ?", r.track.ID).Error; err != nil {
		t.Fatalf("load track: %v", err)
	}
	return &track
}

func (r *workerRig) reloadJob(t *testing.T) *models.OpusJob {
	t.Helper()
	job, err := r.store.GetByTrack(context.Background(), r.track.ID)
	if err != nil {
		t.Fatalf("GetByTrack: %v", err)
	}
	return job
}

func TestWorkerProcessesJobIntoLocalCache(t *testing.T) {
	rig := newWorkerRig(t, nil)

	processed, err := rig.worker.processOne(context.Background())
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if !processed {
		t.Fatal("expected a job to be processed")
	}

	if !rig.cache.IsCached(rig.track.ID) {
		t.Fatal("artifact should be placed in the local cache")
	}

	track := rig.reloadTrack(t)
	if track.OpusStatus != models.TranscodeCompleted {
		t.Fatalf("track opus status = %s, want completed", track.OpusStatus)
	}
	if track.OpusPath != rig.cache.Path(rig.track.ID) {
		t.Fatalf("track opus path = %s, want %s", track.OpusPath, rig.cache.Path(rig.track.ID))
	}
	if track.OpusTranscodedAt == nil {
		t.Fatal("track transcoded timestamp not set")
	}

	if job := rig.reloadJob(t); job.Status != models.TranscodeCompleted {
		t.Fatalf("job status = %s, want completed", job.Status)
	}
}

func TestWorkerSkipsEncodeWhenCacheFresh(t *testing.T) {
	rig := newWorkerRig(t, nil)

	if err := rig.cache.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if err := os.WriteFile(rig.cache.Path(rig.track.ID), []byte("cached"), 0644); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	rig.worker.download = func(ctx context.Context, sourceURL, destPath string) error {
		t.Fatal("download should not run when the cache is fresh")
		return nil
	}

	processed, err := rig.worker.processOne(context.Background())
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if !processed {
		t.Fatal("expected the job to be claimed")
	}
	if job := rig.reloadJob(t); job.Status != models.TranscodeCompleted {
		t.Fatalf("job status = %s, want completed via short-circuit", job.Status)
	}
}

func TestWorkerDownloadFailureMarksJobFailed(t *testing.T) {
	rig := newWorkerRig(t, nil)
	rig.worker.download = func(ctx context.Context, sourceURL, destPath string) error {
		return &TransportError{URL: sourceURL, Err: errors.New("connection refused")}
	}

	processed, err := rig.worker.processOne(context.Background())
	if err != nil {
		t.Fatalf("classified failures should not surface to the loop: %v", err)
	}
	if !processed {
		t.Fatal("expected the job to be claimed")
	}

	job := rig.reloadJob(t)
	if job.Status != models.TranscodeFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
	if job.Error == "" {
		t.Fatal("job should record the failure message")
	}

	if track := rig.reloadTrack(t); track.OpusStatus == models.TranscodeCompleted {
		t.Fatal("track should not be marked completed after a failure")
	}
}

func TestWorkerEncodeFailureMarksJobFailed(t *testing.T) {
	rig := newWorkerRig(t, nil)
	rig.worker.encode = func(ctx context.Context, ffmpegPath, inputPath, outputPath string) error {
		return &EncodeError{Output: "invalid data found", Err: errors.New("exit status 1")}
	}

	processed, err := rig.worker.processOne(context.Background())
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if !processed {
		t.Fatal("expected the job to be claimed")
	}
	if job := rig.reloadJob(t); job.Status != models.TranscodeFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
}

func TestWorkerUnclassifiedErrorSurfacesToLoop(t *testing.T) {
	rig := newWorkerRig(t, nil)
	rig.worker.download = func(ctx context.Context, sourceURL, destPath string) error {
		return errors.New("something nobody anticipated")
	}

	processed, err := rig.worker.processOne(context.Background())
	if err == nil {
		t.Fatal("unclassified errors should surface to the loop")
	}
	if !processed {
		t.Fatal("the job was claimed, processed should be true")
	}

	// The job stays processing; only a fresh enqueue retries it.
	if job := rig.reloadJob(t); job.Status != models.TranscodeProcessing {
		t.Fatalf("job status = %s, want processing", job.Status)
	}
}

func TestWorkerUploadsToStorageWhenEnabled(t *testing.T) {
	storage := &fakeStorage{enabled: true, url: "https://cdn.example.com/opus/x.opus"}
	rig := newWorkerRig(t, storage)

	processed, err := rig.worker.processOne(context.Background())
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if !processed {
		t.Fatal("expected a job to be processed")
	}

	if len(storage.uploads) != 1 || storage.uploads[0] != "opus/"+rig.track.ID+".opus" {
		t.Fatalf("uploads = %v, want one upload under the track key", storage.uploads)
	}
	if rig.cache.IsCached(rig.track.ID) {
		t.Fatal("artifact should not land in the local cache when storage is enabled")
	}

	track := rig.reloadTrack(t)
	if track.OpusURL != storage.url {
		t.Fatalf("track opus url = %s, want %s", track.OpusURL, storage.url)
	}
	if track.OpusStatus != models.TranscodeCompleted {
		t.Fatalf("track opus status = %s, want completed", track.OpusStatus)
	}
}

func TestWorkerStorageFreshShortCircuit(t *testing.T) {
	storage := &fakeStorage{enabled: true, fresh: true, url: "https://cdn.example.com/opus/x.opus"}
	rig := newWorkerRig(t, storage)
	rig.worker.download = func(ctx context.Context, sourceURL, destPath string) error {
		t.Fatal("download should not run when storage is fresh")
		return nil
	}

	processed, err := rig.worker.processOne(context.Background())
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if !processed {
		t.Fatal("expected the job to be claimed")
	}
	if len(storage.uploads) != 0 {
		t.Fatalf("uploads = %v, want none", storage.uploads)
	}
	if track := rig.reloadTrack(t); track.OpusURL != storage.url {
		t.Fatalf("track opus url = %s, want resolved from storage", track.OpusURL)
	}
}

func TestWorkerStorageUploadFailureMarksJobFailed(t *testing.T) {
	storage := &fakeStorage{enabled: true, uploadErr: errors.New("access denied")}
	rig := newWorkerRig(t, storage)

	processed, err := rig.worker.processOne(context.Background())
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if !processed {
		t.Fatal("expected the job to be claimed")
	}
	if job := rig.reloadJob(t); job.Status != models.TranscodeFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
}

type fakeInvalidator struct {
	trackIDs []string
}

func (f *fakeInvalidator) InvalidateJobStatus(ctx context.Context, trackID string) error {
	f.trackIDs = append(f.trackIDs, trackID)
	return nil
}

func TestWorkerInvalidatesStatusOnTerminalTransitions(t *testing.T) {
	inv := &fakeInvalidator{}
	rig := newWorkerRig(t, nil)
	WithStatusInvalidator(inv)(rig.worker)

	if _, err := rig.worker.processOne(context.Background()); err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if len(inv.trackIDs) != 1 || inv.trackIDs[0] != rig.track.ID {
		t.Fatalf("invalidations = %v, want one for the completed track", inv.trackIDs)
	}

	// Re-enqueue and fail the job; failure is terminal too. Drop the
	// cached artifact so the short-circuit does not kick in.
	if err := rig.cache.Remove(rig.track.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := rig.store.Enqueue(context.Background(), rig.track.ID, rig.track.SourceURL); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	rig.worker.download = func(ctx context.Context, sourceURL, destPath string) error {
		return &TransportError{URL: sourceURL, Err: errors.New("connection refused")}
	}
	if _, err := rig.worker.processOne(context.Background()); err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if len(inv.trackIDs) != 2 {
		t.Fatalf("invalidations = %v, want a second one for the failed job", inv.trackIDs)
	}
}

func TestWorkerNothingToClaim(t *testing.T) {
	store := NewStore(openTestDB(t))
	cache := opuscache.New(t.TempDir(), time.Hour, zerolog.Nop())
	worker := NewWorker(store, cache, nil, WorkerConfig{}, zerolog.Nop())

	processed, err := worker.processOne(context.Background())
	if err != nil {
		t.Fatalf("processOne: %v", err)
	}
	if processed {
		t.Fatal("nothing should be processed on an empty queue")
	}
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	store := NewStore(openTestDB(t))
	cache := opuscache.New(t.TempDir(), time.Hour, zerolog.Nop())
	worker := NewWorker(store, cache, nil, WorkerConfig{PollInterval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
