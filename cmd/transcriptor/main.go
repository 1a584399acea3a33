// Command transcriptor batch-transcribes local audio files through a remote
// speech-to-text API, writing one .txt transcript per input file.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/asr"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/asr/localwhisper"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/asr/openai"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/batch"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/config"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/diaglog"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/discovery"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/pidfile"
	"github.com/carlosedm10/apple-podcast-transcript-extractor/internal/update"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

var (
	flagConfig   string
	flagInput    string
	flagOutDir   string
	flagDelay    float64
	flagRetries  int
	flagContinue bool
	flagSkip     bool
	flagMeta     bool
	flagWatch    bool
	flagLanguage string
	flagModel    string
	flagFormats  []string
)

var rootCmd = &cobra.Command{
	Use:   "transcriptor",
	Short: "Batch-transcribe audio files to text via a speech-to-text API",
	Long: "Transcriptor scans a file or directory for audio files and sends each one\n" +
		"to a speech-to-text API, saving a plain-text transcript per input file.\n" +
		"Rate-limited calls are retried with exponential backoff.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBatch,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the configured transcription backends",
	RunE:  runHealth,
}

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Diagnostic log utilities",
}

var flagVersionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the transcriptor version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("transcriptor %s\n", Version)
		if !flagVersionCheck {
			return nil
		}
		checker := update.NewChecker("carlosedm10", "apple-podcast-transcript-extractor", Version)
		available, release, err := checker.Check()
		if err != nil {
			return fmt.Errorf("update check: %w", err)
		}
		if available {
			fmt.Printf("Update available: %s (%s)\n", release.TagName, release.HTMLURL)
		} else {
			fmt.Println("Already up to date.")
		}
		return nil
	},
}

var diagExportCmd = &cobra.Command{
	Use:   "export [dest-dir]",
	Short: "Export the diagnostic log as an NDJSON bundle",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := "."
		if len(args) == 1 {
			dest = args[0]
		}
		diaglog.Version = Version
		path, n, err := diaglog.Export(diaglog.DefaultPath(), dest)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w\nhint: run with TRANSCRIPTOR_DEBUG=true to enable logging", err)
			}
			return err
		}
		fmt.Printf("Wrote: %s (%d lines)\n", path, n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default: ~/.config/transcriptor/config.yaml)")
	rootCmd.Flags().StringVarP(&flagInput, "input", "i", "", "audio file or directory to scan (default: Apple Podcasts cache)")
	rootCmd.Flags().StringVarP(&flagOutDir, "output_dir", "o", "transcripts", "directory for transcript output")
	rootCmd.Flags().Float64Var(&flagDelay, "delay", 1.0, "initial backoff delay in seconds")
	rootCmd.Flags().IntVar(&flagRetries, "max-retries", 5, "maximum retries on rate-limit errors")
	rootCmd.Flags().BoolVar(&flagContinue, "continue-on-error", false, "keep processing remaining files after a failure")
	rootCmd.Flags().BoolVar(&flagSkip, "skip-existing", false, "skip files whose transcript already exists")
	rootCmd.Flags().BoolVar(&flagMeta, "metadata", false, "write a .meta.json sidecar per transcript")
	rootCmd.Flags().BoolVar(&flagWatch, "watch", false, "after the initial batch, watch the input directory for new files")
	rootCmd.Flags().StringVar(&flagLanguage, "language", "", "language hint (ISO-639-1, e.g. en)")
	rootCmd.Flags().StringVar(&flagModel, "model", "", "model name override")
	rootCmd.Flags().StringSliceVar(&flagFormats, "format", nil, "transcript formats: txt, srt, vtt (default txt)")

	versionCmd.Flags().BoolVar(&flagVersionCheck, "check", false, "also check GitHub for a newer release")

	diagCmd.AddCommand(diagExportCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(diagCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration: defaults, then the YAML
// file (explicit --config is required to exist; the default path is
// optional), then flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error

	switch {
	case flagConfig != "":
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
	default:
		path := config.DefaultConfigPath()
		if _, statErr := os.Stat(path); statErr == nil {
			cfg, err = config.Load(path)
			if err != nil {
				return nil, err
			}
		} else {
			cfg = config.Default()
		}
	}

	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.Input = flagInput
	}
	if flags.Changed("output_dir") {
		cfg.OutputDir = flagOutDir
	}
	if flags.Changed("delay") {
		cfg.DelaySeconds = flagDelay
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries = flagRetries
	}
	if flags.Changed("continue-on-error") {
		cfg.ContinueOnError = flagContinue
	}
	if flags.Changed("skip-existing") {
		cfg.SkipExisting = flagSkip
	}
	if flags.Changed("metadata") {
		cfg.WriteMetadata = flagMeta
	}
	if flags.Changed("language") {
		cfg.Language = flagLanguage
	}
	if flags.Changed("format") {
		cfg.Formats = flagFormats
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// buildRegistry registers the configured backends and wires primary and
// fallback selection. The API credential is injected here, never read from
// the environment by the client itself.
func buildRegistry(cfg *config.Config) (*asr.Registry, error) {
	reg := asr.NewRegistry()

	reg.Register("openai", openai.NewClient(openai.Config{
		BaseURL:        cfg.OpenAI.BaseURL,
		APIKey:         os.Getenv("OPENAI_API_KEY"),
		Model:          cfg.OpenAI.Model,
		TimeoutSeconds: cfg.OpenAI.TimeoutSeconds,
	}))

	if cfg.Backend == "local_whisper" || cfg.Fallback == "local_whisper" {
		reg.Register("local_whisper", localwhisper.NewBackend(localwhisper.Config{
			BinaryPath: cfg.LocalWhisper.BinaryPath,
			ModelPath:  cfg.LocalWhisper.ModelPath,
			Model:      cfg.LocalWhisper.Model,
			Threads:    cfg.LocalWhisper.Threads,
		}))
	}

	if err := reg.SetPrimary(cfg.Backend); err != nil {
		return nil, err
	}
	if cfg.Fallback != "" {
		if err := reg.SetFallback(cfg.Fallback); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	outLog := log.New(os.Stdout, "", 0)
	errLog := log.New(os.Stderr, "", 0)

	diaglog.Version = Version
	diag, diagErr := diaglog.New(diaglog.DefaultPath())
	if diagErr != nil {
		errLog.Printf("Warning: could not open diagnostic log: %v (continuing)", diagErr)
		diag = diaglog.NewNoOp()
	}
	defer func() { _ = diag.Close() }()

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	input := cfg.Input
	if input == "" {
		input = config.DefaultInputDir()
	}
	if input == "" {
		return fmt.Errorf("no input path given (use -i/--input)")
	}

	runID := uuid.NewString()
	diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentTranscripts,
		Event:     diaglog.EventRunStart,
		RunID:     runID,
		Payload: map[string]interface{}{
			"input":       input,
			"output_dir":  cfg.OutputDir,
			"backend":     cfg.Backend,
			"max_retries": cfg.MaxRetries,
			"delay_s":     cfg.DelaySeconds,
		},
	})

	files, err := discovery.Discover(input, cfg.Extensions)
	if err != nil {
		return err
	}
	if len(files) == 0 && !flagWatch {
		outLog.Printf("No audio files found under %s.", input)
		return nil
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	runner := batch.NewRunner(batch.Config{
		Backend:  reg.Primary(),
		Fallback: reg.Fallback(),
		Policy: batch.Policy{
			InitialDelay:    cfg.Delay(),
			MaxRetries:      cfg.MaxRetries,
			ContinueOnError: cfg.ContinueOnError,
			SkipExisting:    cfg.SkipExisting,
		},
		OutputDir: cfg.OutputDir,
		Formats:   cfg.Formats,
		Opts: asr.TranscribeOptions{
			Language: cfg.Language,
			Model:    flagModel,
		},
		Metadata: cfg.WriteMetadata,
		RunID:    runID,
		Out:      outLog,
		Err:      errLog,
		Diag:     diag,
	})

	if _, err := runner.Run(files); err != nil {
		return err
	}

	if flagWatch {
		return watchLoop(input, cfg, runner, outLog, errLog, diag, runID)
	}
	return nil
}

// watchLoop keeps transcribing files as they appear in the input directory
// until SIGINT/SIGTERM. A pid file guards against duplicate watchers.
func watchLoop(input string, cfg *config.Config, runner *batch.Runner,
	outLog, errLog *log.Logger, diag *diaglog.Logger, runID string) error {

	pf, err := pidfile.New(pidfile.Path("transcriptor-watch"))
	if err != nil {
		return err
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			errLog.Printf("Warning: failed to remove PID file: %v", err)
		}
	}()

	watcher, err := discovery.NewWatcher(input, cfg.Extensions)
	if err != nil {
		return err
	}
	defer watcher.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	outLog.Printf("Watching %s for new audio files (Ctrl+C to stop)...", input)

	for {
		select {
		case path, ok := <-watcher.Files():
			if !ok {
				return nil
			}
			diag.Log(diaglog.LogEntry{
				Component: diaglog.ComponentDiscovery,
				Event:     diaglog.EventWatchEvent,
				RunID:     runID,
				Payload:   map[string]interface{}{"file": path},
			})
			if err := runner.ProcessOne(path); err != nil {
				if !cfg.ContinueOnError {
					return err
				}
				errLog.Printf("Failed %s: %v", path, err)
			}

		case <-sigCh:
			outLog.Println("Shutting down watcher")
			return nil
		}
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	unhealthy := false
	for _, name := range reg.Backends() {
		b, _ := reg.Get(name)
		hs, err := b.HealthCheck()
		if err != nil {
			fmt.Printf("%-14s ERROR  %v\n", name, err)
			unhealthy = true
			continue
		}
		state := "OK"
		if !hs.OK {
			state = "FAIL"
			unhealthy = true
		}
		fmt.Printf("%-14s %-5s  %s (latency=%s)\n", name, state, hs.Message, hs.Latency)
	}
	if unhealthy {
		return fmt.Errorf("one or more backends unhealthy")
	}
	return nil
}
