package batch

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/asr"
)

// fakeBackend scripts per-call results: transcribe is called with the file
// path and a 0-based call index.
type fakeBackend struct {
	name       string
	transcribe func(path string, call int) (*asr.Transcript, error)
	calls      int
	paths      []string
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) TranscribeFile(path string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	call := f.calls
	f.calls++
	f.paths = append(f.paths, path)
	return f.transcribe(path, call)
}

func (f *fakeBackend) HealthCheck() (*asr.HealthStatus, error) {
	return &asr.HealthStatus{OK: true, Backend: f.name}, nil
}

// Compile-time interface check.
var _ asr.Backend = (*fakeBackend)(nil)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

// newTestRunner builds a Runner over the given backend with fast fake
// sleeps; recorded backoff durations go into *sleeps.
func newTestRunner(t *testing.T, b asr.Backend, p Policy, sleeps *[]time.Duration) *Runner {
	t.Helper()
	r := NewRunner(Config{
		Backend:   b,
		Policy:    p,
		OutputDir: t.TempDir(),
		Out:       quiet(),
		Err:       quiet(),
	})
	r.sleep = func(d time.Duration) {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
	}
	return r
}

func audioFile(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake audio"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func success(text string) func(string, int) (*asr.Transcript, error) {
	return func(string, int) (*asr.Transcript, error) {
		return &asr.Transcript{Text: text, Backend: "fake", Model: "whisper-1"}, nil
	}
}

func TestRetryBackoffSequence(t *testing.T) {
	rateLimited := asr.Retryable(errors.New("http 429: rate limit"))
	b := &fakeBackend{
		name: "fake",
		transcribe: func(path string, call int) (*asr.Transcript, error) {
			if call < 2 {
				return nil, rateLimited
			}
			return &asr.Transcript{Text: "hello"}, nil
		},
	}
	var sleeps []time.Duration
	r := newTestRunner(t, b, Policy{InitialDelay: time.Second, MaxRetries: 5}, &sleeps)

	file := audioFile(t, t.TempDir(), "ep.mp3")
	sum, err := r.Run([]string{file})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Succeeded != 1 {
		t.Errorf("expected 1 success, got %+v", sum)
	}
	if b.calls != 3 {
		t.Errorf("expected 3 attempts (2 rate-limited + 1 success), got %d", b.calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %d (%v)", len(want), len(sleeps), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], sleeps[i])
		}
	}
}

func TestBackoffDoublesWithoutCap(t *testing.T) {
	b := &fakeBackend{
		name: "fake",
		transcribe: func(string, int) (*asr.Transcript, error) {
			return nil, asr.Retryable(errors.New("quota exceeded"))
		},
	}
	var sleeps []time.Duration
	r := newTestRunner(t, b, Policy{InitialDelay: time.Second, MaxRetries: 5, ContinueOnError: true}, &sleeps)

	file := audioFile(t, t.TempDir(), "ep.mp3")
	if _, err := r.Run([]string{file}); err != nil {
		t.Fatalf("continue-on-error run should not fail: %v", err)
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %d (%v)", len(want), len(sleeps), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], sleeps[i])
		}
	}
	if b.calls != 6 {
		t.Errorf("expected 6 attempts (1 initial + 5 retries), got %d", b.calls)
	}
}

func TestRetryExhaustedIsFatal(t *testing.T) {
	b := &fakeBackend{
		name: "fake",
		transcribe: func(string, int) (*asr.Transcript, error) {
			return nil, asr.Retryable(errors.New("http 429"))
		},
	}
	var sleeps []time.Duration
	r := newTestRunner(t, b, Policy{InitialDelay: time.Millisecond, MaxRetries: 3}, &sleeps)

	file := audioFile(t, t.TempDir(), "ep.mp3")
	_, err := r.Run([]string{file})
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if !errors.Is(err, asr.ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}
	if b.calls != 4 {
		t.Errorf("expected 4 attempts (1 + 3 retries), got %d", b.calls)
	}
}

func TestNonRetryableGetsZeroRetries(t *testing.T) {
	b := &fakeBackend{
		name: "fake",
		transcribe: func(string, int) (*asr.Transcript, error) {
			return nil, errors.New("http 401: invalid api key")
		},
	}
	var sleeps []time.Duration
	r := newTestRunner(t, b, Policy{InitialDelay: time.Second, MaxRetries: 5}, &sleeps)

	file := audioFile(t, t.TempDir(), "ep.mp3")
	_, err := r.Run([]string{file})
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if b.calls != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", b.calls)
	}
	if len(sleeps) != 0 {
		t.Errorf("expected no backoff sleeps, got %v", sleeps)
	}
}

func TestAbortOnFirstFatalError(t *testing.T) {
	b := &fakeBackend{
		name: "fake",
		transcribe: func(path string, call int) (*asr.Transcript, error) {
			if filepath.Base(path) == "bad.mp3" {
				return nil, errors.New("malformed file")
			}
			return &asr.Transcript{Text: "ok"}, nil
		},
	}
	r := newTestRunner(t, b, Policy{InitialDelay: time.Second, MaxRetries: 5}, nil)

	dir := t.TempDir()
	files := []string{
		audioFile(t, dir, "bad.mp3"),
		audioFile(t, dir, "second.mp3"),
		audioFile(t, dir, "third.mp3"),
	}
	sum, err := r.Run(files)
	if err == nil {
		t.Fatal("expected run to abort")
	}
	if b.calls != 1 {
		t.Errorf("expected remaining files unprocessed, backend saw %d calls", b.calls)
	}
	if sum.Succeeded != 0 || sum.Failed != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestContinueOnErrorProceedsToNextFile(t *testing.T) {
	b := &fakeBackend{
		name: "fake",
		transcribe: func(path string, call int) (*asr.Transcript, error) {
			if filepath.Base(path) == "bad.mp3" {
				return nil, errors.New("malformed file")
			}
			return &asr.Transcript{Text: "second transcript"}, nil
		},
	}
	r := newTestRunner(t, b, Policy{InitialDelay: time.Second, MaxRetries: 5, ContinueOnError: true}, nil)

	dir := t.TempDir()
	files := []string{
		audioFile(t, dir, "bad.mp3"),
		audioFile(t, dir, "good.mp3"),
	}
	sum, err := r.Run(files)
	if err != nil {
		t.Fatalf("continue-on-error run should not fail: %v", err)
	}
	if sum.Failed != 1 || sum.Succeeded != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}

	if _, err := os.Stat(filepath.Join(r.cfg.OutputDir, "bad.txt")); !os.IsNotExist(err) {
		t.Error("failed file must not leave partial output")
	}
	data, err := os.ReadFile(filepath.Join(r.cfg.OutputDir, "good.txt"))
	if err != nil {
		t.Fatalf("expected transcript for good.mp3: %v", err)
	}
	if string(data) != "second transcript" {
		t.Errorf("unexpected transcript content: %q", data)
	}
}

func TestRoundTrip(t *testing.T) {
	b := &fakeBackend{name: "fake", transcribe: success("the returned text")}
	r := newTestRunner(t, b, DefaultPolicy(), nil)

	file := audioFile(t, t.TempDir(), "episode.mp3")
	sum, err := r.Run([]string{file})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	entries, err := os.ReadDir(r.cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "episode.txt" {
		t.Fatalf("expected exactly episode.txt, got %v", entries)
	}
	data, err := os.ReadFile(filepath.Join(r.cfg.OutputDir, "episode.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "the returned text" {
		t.Errorf("expected transcript to contain the returned text, got %q", data)
	}
}

func TestStemCollisionGetsNumberedOutput(t *testing.T) {
	b := &fakeBackend{name: "fake", transcribe: success("text")}
	r := newTestRunner(t, b, DefaultPolicy(), nil)

	dir := t.TempDir()
	files := []string{
		audioFile(t, filepath.Join(dir, "a"), "b.mp3"),
		audioFile(t, filepath.Join(dir, "c"), "b.mp3"),
	}
	sum, err := r.Run(files)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Succeeded != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	for _, name := range []string{"b.txt", "b-2.txt"} {
		if _, err := os.Stat(filepath.Join(r.cfg.OutputDir, name)); err != nil {
			t.Errorf("expected output %s: %v", name, err)
		}
	}
}

func TestSkipExisting(t *testing.T) {
	b := &fakeBackend{name: "fake", transcribe: success("text")}
	r := newTestRunner(t, b, Policy{InitialDelay: time.Second, SkipExisting: true}, nil)

	if err := os.WriteFile(filepath.Join(r.cfg.OutputDir, "episode.txt"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	file := audioFile(t, t.TempDir(), "episode.mp3")
	sum, err := r.Run([]string{file})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Skipped != 1 || sum.Succeeded != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if b.calls != 0 {
		t.Errorf("expected no transcription attempts for skipped file, got %d", b.calls)
	}
}

func TestFallbackBackendTriedAfterPrimaryFails(t *testing.T) {
	primary := &fakeBackend{
		name: "openai",
		transcribe: func(string, int) (*asr.Transcript, error) {
			return nil, errors.New("http 401")
		},
	}
	fallback := &fakeBackend{
		name: "local_whisper",
		transcribe: func(string, int) (*asr.Transcript, error) {
			return &asr.Transcript{Text: "offline text", Backend: "local_whisper"}, nil
		},
	}
	r := NewRunner(Config{
		Backend:   primary,
		Fallback:  fallback,
		Policy:    DefaultPolicy(),
		OutputDir: t.TempDir(),
		Out:       quiet(),
		Err:       quiet(),
	})
	r.sleep = func(time.Duration) {}

	file := audioFile(t, t.TempDir(), "ep.mp3")
	sum, err := r.Run([]string{file})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if fallback.calls != 1 {
		t.Errorf("expected fallback to be tried once, got %d", fallback.calls)
	}
	data, err := os.ReadFile(filepath.Join(r.cfg.OutputDir, "ep.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "offline text" {
		t.Errorf("expected fallback transcript, got %q", data)
	}
}

func TestMetadataSidecar(t *testing.T) {
	b := &fakeBackend{
		name: "fake",
		transcribe: func(string, int) (*asr.Transcript, error) {
			return &asr.Transcript{Text: "text", Backend: "fake", Model: "whisper-1", Duration: 90 * time.Second}, nil
		},
	}
	r := NewRunner(Config{
		Backend:   b,
		Policy:    DefaultPolicy(),
		OutputDir: t.TempDir(),
		Metadata:  true,
		RunID:     "run-123",
		Out:       quiet(),
		Err:       quiet(),
	})
	r.sleep = func(time.Duration) {}

	file := audioFile(t, t.TempDir(), "ep.mp3")
	if _, err := r.Run([]string{file}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(r.cfg.OutputDir, "ep.meta.json"))
	if err != nil {
		t.Fatalf("expected metadata sidecar: %v", err)
	}
	for _, want := range []string{`"run-123"`, `"fake"`, `"whisper-1"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metadata missing %s: %s", want, data)
		}
	}
}
