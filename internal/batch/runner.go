// Package batch drives discovered audio files through the transcription
// backend under a retry/backoff policy and writes the resulting transcripts.
package batch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/asr"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/diaglog"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/fileutil"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/transcript"
)

// Policy is the retry and error-handling configuration, fixed for a run.
type Policy struct {
	InitialDelay    time.Duration // first backoff sleep (default 1s)
	MaxRetries      int           // retries after the initial attempt (default 5)
	ContinueOnError bool          // per-file fatal errors skip instead of abort
	SkipExisting    bool          // skip files whose .txt output already exists
}

// DefaultPolicy returns the policy used when nothing is configured:
// 1s initial delay, 5 retries, abort on first fatal error.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: time.Second,
		MaxRetries:   5,
	}
}

// Config wires a Runner.
type Config struct {
	Backend   asr.Backend // required
	Fallback  asr.Backend // optional; tried once after the primary fails a file
	Policy    Policy
	OutputDir string
	Formats   []string // transcript formats; default ["txt"]
	Opts      asr.TranscribeOptions
	Metadata  bool   // write a .meta.json sidecar per transcript
	RunID     string // recorded in sidecars and diagnostics
	Out       *log.Logger
	Err       *log.Logger
	Diag      *diaglog.Logger
}

// Summary counts per-file outcomes of a run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

// Runner processes files strictly sequentially: a file's attempts,
// including backoff sleeps, fully resolve before the next file begins.
type Runner struct {
	cfg   Config
	taken map[string]bool // output stems reserved this run

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewRunner creates a Runner. Zero policy fields are filled with defaults.
func NewRunner(cfg Config) *Runner {
	if cfg.Policy.InitialDelay <= 0 {
		cfg.Policy.InitialDelay = time.Second
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []string{"txt"}
	}
	if cfg.Out == nil {
		cfg.Out = log.New(os.Stdout, "", 0)
	}
	if cfg.Err == nil {
		cfg.Err = log.New(os.Stderr, "", 0)
	}
	if cfg.Diag == nil {
		cfg.Diag = diaglog.NewNoOp()
	}
	return &Runner{
		cfg:   cfg,
		taken: make(map[string]bool),
		sleep: time.Sleep,
	}
}

// Run processes files in order. With ContinueOnError unset, the first fatal
// per-file failure aborts the run and the returned error is non-nil; the
// remaining files stay unprocessed. The Summary is returned in either case.
func (r *Runner) Run(files []string) (*Summary, error) {
	sum := &Summary{Total: len(files)}
	for i, f := range files {
		if err := r.processFile(f, i+1, len(files), sum); err != nil {
			r.cfg.Diag.Log(diaglog.LogEntry{
				Component: diaglog.ComponentBatch,
				Event:     diaglog.EventRunComplete,
				RunID:     r.cfg.RunID,
				Reason:    "aborted",
				Payload:   map[string]interface{}{"succeeded": sum.Succeeded, "failed": sum.Failed},
			})
			return sum, err
		}
	}
	r.cfg.Out.Printf("Done: %d succeeded, %d failed, %d skipped", sum.Succeeded, sum.Failed, sum.Skipped)
	r.cfg.Diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentBatch,
		Event:     diaglog.EventRunComplete,
		RunID:     r.cfg.RunID,
		Payload:   map[string]interface{}{"succeeded": sum.Succeeded, "failed": sum.Failed, "skipped": sum.Skipped},
	})
	return sum, nil
}

// ProcessOne transcribes a single file outside of a counted batch (watch
// mode). Fatal errors are returned but never abort the caller's loop.
func (r *Runner) ProcessOne(path string) error {
	sum := &Summary{Total: 1}
	return r.processFile(path, 1, 1, sum)
}

func (r *Runner) processFile(path string, index, total int, sum *Summary) error {
	stem := fileutil.SanitizeStem(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	stem = fileutil.UniqueStem(stem, r.taken)
	basePath := filepath.Join(r.cfg.OutputDir, stem)

	if r.cfg.Policy.SkipExisting {
		if _, err := os.Stat(basePath + ".txt"); err == nil {
			sum.Skipped++
			r.cfg.Out.Printf("[%d/%d] Skipping (transcript exists): %s", index, total, path)
			r.cfg.Diag.Log(diaglog.LogEntry{
				Component: diaglog.ComponentBatch,
				Event:     diaglog.EventFileSkipped,
				RunID:     r.cfg.RunID,
				Payload:   map[string]interface{}{"file": path},
			})
			return nil
		}
	}

	r.cfg.Out.Printf("[%d/%d] Transcribing: %s", index, total, path)

	t, attempts, err := r.transcribeWithRetry(r.cfg.Backend, path)
	if err != nil && r.cfg.Fallback != nil {
		r.cfg.Err.Printf("Backend %s failed for %s: %v; trying fallback %s",
			r.cfg.Backend.Name(), path, err, r.cfg.Fallback.Name())
		r.cfg.Diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentBatch,
			Event:     diaglog.EventFallback,
			RunID:     r.cfg.RunID,
			Reason:    err.Error(),
			Payload:   map[string]interface{}{"file": path, "fallback": r.cfg.Fallback.Name()},
		})
		var fbAttempts int
		t, fbAttempts, err = r.transcribeWithRetry(r.cfg.Fallback, path)
		attempts += fbAttempts
	}
	if err == nil {
		err = r.write(basePath, path, t, attempts)
	}
	if err != nil {
		sum.Failed++
		r.cfg.Diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentBatch,
			Event:     diaglog.EventFileFailed,
			RunID:     r.cfg.RunID,
			Reason:    err.Error(),
			Payload:   map[string]interface{}{"file": path, "attempts": attempts},
		})
		if !r.cfg.Policy.ContinueOnError {
			return fmt.Errorf("transcribe %s: %w", path, err)
		}
		r.cfg.Err.Printf("Failed %s: %v", path, err)
		return nil
	}

	sum.Succeeded++
	r.cfg.Out.Printf("Saved: %s.txt", basePath)
	r.cfg.Diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentBatch,
		Event:     diaglog.EventTranscriptSaved,
		RunID:     r.cfg.RunID,
		Payload:   map[string]interface{}{"file": path, "output": basePath, "attempts": attempts},
	})
	return nil
}

// transcribeWithRetry is the per-file retry state machine. A call either
// succeeds, fails fatally at once (non-retryable, zero retries consumed),
// or is retried after sleeping the current delay, which doubles each time
// with no cap. Exhausting the budget yields asr.ErrRetriesExhausted.
func (r *Runner) transcribeWithRetry(b asr.Backend, path string) (*asr.Transcript, int, error) {
	delay := r.cfg.Policy.InitialDelay
	remaining := r.cfg.Policy.MaxRetries
	attempts := 0

	for {
		attempts++
		t, err := b.TranscribeFile(path, r.cfg.Opts)
		if err == nil {
			return t, attempts, nil
		}
		if !asr.IsRetryable(err) {
			return nil, attempts, err
		}
		if remaining == 0 {
			return nil, attempts, fmt.Errorf("%w after %d retries: %v",
				asr.ErrRetriesExhausted, r.cfg.Policy.MaxRetries, err)
		}
		remaining--
		r.cfg.Out.Printf("Rate limited, retrying in %s (%d retries left): %v", delay, remaining, err)
		r.cfg.Diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentBatch,
			Event:     diaglog.EventRetryBackoff,
			RunID:     r.cfg.RunID,
			Payload: map[string]interface{}{
				"file":       path,
				"backend":    b.Name(),
				"backoff_ms": delay.Milliseconds(),
				"remaining":  remaining,
			},
		})
		r.sleep(delay)
		delay *= 2
	}
}

// write persists the transcript (and optional sidecar) for a successful
// attempt. The transcript writers are atomic, so a write failure leaves no
// partial output behind.
func (r *Runner) write(basePath, source string, t *asr.Transcript, attempts int) error {
	if err := transcript.WriteAll(basePath, t, r.cfg.Formats); err != nil {
		return err
	}
	if !r.cfg.Metadata {
		return nil
	}
	meta := &fileutil.TranscriptMetadata{
		Version:       diaglog.Version,
		RunID:         r.cfg.RunID,
		Source:        source,
		Backend:       t.Backend,
		Model:         t.Model,
		Language:      t.Language,
		Formats:       r.cfg.Formats,
		Attempts:      attempts,
		TranscribedAt: time.Now().UTC(),
	}
	if t.Duration > 0 {
		meta.AudioDuration = t.Duration.String()
	}
	if err := fileutil.WriteMetadata(basePath, meta); err != nil {
		// The transcript itself landed; a sidecar failure is not fatal.
		r.cfg.Err.Printf("Failed to write metadata for %s: %v", basePath, err)
	}
	return nil
}
