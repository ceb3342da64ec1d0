package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"videogateway/internal/apiclient"
	"videogateway/internal/domain"
	"videogateway/internal/infra"
	"videogateway/internal/middleware"
	"videogateway/internal/obs"
	"videogateway/internal/state"
	"videogateway/internal/tracker"
)

const (
	serviceName      = "videogateway-studio"
	maxPasswordTries = 3
)

const usage = `usage: studio <command> [flags]

commands:
  create   -prompt TEXT [-model M] [-size WxH] [-seconds N] [-ref IMAGE] [-wait]
  remix    -id VIDEO_ID -prompt TEXT [-wait]
  watch    resume tracking of unfinished jobs until they settle
  history  list past generations
  show     -id VIDEO_ID
  delete   -id VIDEO_ID
  clear    forget every generation
  export   -id VIDEO_ID -out FILE.zip
`

type studio struct {
	logger  infra.Logger
	client  *apiclient.Client
	tracker *tracker.Tracker
	in      *bufio.Reader
	closers []func()
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStudio(ctx, cfg, logger)
	if err != nil {
		exitWithError(err)
	}
	defer s.Close()

	if err := s.run(ctx, command, args); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.Close()
		exitWithError(err)
	}
}

func newStudio(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*studio, error) {
	s := &studio{logger: logger, in: bufio.NewReader(os.Stdin)}

	var hash string
	if pw := strings.TrimSpace(os.Getenv("STUDIO_PASSWORD")); pw != "" {
		hash = middleware.HashPassword(pw)
	} else if cfg.AppPassword != "" {
		hash = middleware.HashPassword(cfg.AppPassword)
	}
	client, err := apiclient.NewClient(apiclient.Options{
		BaseURL:      cfg.GatewayURL,
		PasswordHash: hash,
		HTTPClient:   &http.Client{Timeout: cfg.StudioHTTPTimeout, Transport: obs.HTTPTransport(http.DefaultTransport)},
		Logger:       &logger,
	})
	if err != nil {
		return nil, err
	}
	s.client = client

	kv, err := s.openKV(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	var blobs *state.BlobStore
	if cfg.StorageMode == domain.StorageModeBlob {
		if blobs, err = state.NewBlobStore(filepath.Join(cfg.StateDir, "blobs")); err != nil {
			s.Close()
			return nil, err
		}
	}
	tr, err := tracker.New(tracker.Options{
		Gateway:      client,
		History:      state.NewHistoryStore(kv, logger),
		Blobs:        blobs,
		StorageMode:  cfg.StorageMode,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.tracker = tr
	s.closers = append(s.closers, tr.Close)
	return s, nil
}

func (s *studio) openKV(ctx context.Context, cfg *infra.Config) (state.KV, error) {
	switch cfg.StateBackend {
	case infra.StateBackendRedis:
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("studio: redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		return state.NewRedisKV(client, ""), nil
	case infra.StateBackendPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("studio: postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		kv := state.NewPostgresKV(infra.NewSQLRunner(pool, s.logger))
		if err := kv.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return kv, nil
	default:
		return state.NewFileKV(cfg.StateDir)
	}
}

// Close releases resources in reverse order of acquisition. Safe to call
// more than once.
func (s *studio) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *studio) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "create", "remix", "watch", "delete", "export":
		if err := s.ensurePassword(ctx); err != nil {
			return err
		}
	}
	if err := s.tracker.Resume(ctx); err != nil {
		return err
	}
	switch command {
	case "create":
		return s.create(ctx, args)
	case "remix":
		return s.remix(ctx, args)
	case "watch":
		return s.watch(ctx)
	case "history":
		printHistory(os.Stdout, s.tracker.History())
		return nil
	case "show":
		return s.show(args)
	case "delete":
		return s.delete(ctx, args)
	case "clear":
		if err := s.tracker.ClearHistory(ctx); err != nil {
			return err
		}
		fmt.Println("History cleared.")
		return nil
	case "export":
		return s.export(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", command, usage)
	}
}

func (s *studio) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	prompt := fs.String("prompt", "", "text prompt (required)")
	model := fs.String("model", "sora-2", "model: sora-2 or sora-2-pro")
	size := fs.String("size", "1280x720", "resolution WxH")
	seconds := fs.String("seconds", "4", "clip length in seconds")
	ref := fs.String("ref", "", "optional first-frame image")
	wait := fs.Bool("wait", false, "track the job until it settles")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*prompt) == "" {
		return errors.New("create: -prompt is required")
	}
	params := apiclient.CreateParams{Model: *model, Prompt: *prompt, Size: *size, Seconds: *seconds}
	if *ref != "" {
		data, err := os.ReadFile(*ref)
		if err != nil {
			return fmt.Errorf("create: read reference: %w", err)
		}
		params.InputReference = &apiclient.InputReference{
			Filename:    filepath.Base(*ref),
			ContentType: mime.TypeByExtension(filepath.Ext(*ref)),
			Data:        data,
		}
	}

	var job domain.Job
	err := s.withPassword(ctx, func() error {
		var err error
		job, err = s.tracker.Create(ctx, params)
		return err
	})
	if err != nil {
		return err
	}
	printJob(os.Stdout, job, s.entryFor(job.ID))
	if *wait {
		return s.watch(ctx)
	}
	return nil
}

func (s *studio) remix(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remix", flag.ContinueOnError)
	id := fs.String("id", "", "source video id (required)")
	prompt := fs.String("prompt", "", "remix prompt (required)")
	wait := fs.Bool("wait", false, "track the job until it settles")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || strings.TrimSpace(*prompt) == "" {
		return errors.New("remix: -id and -prompt are required")
	}
	var job domain.Job
	err := s.withPassword(ctx, func() error {
		var err error
		job, err = s.tracker.Remix(ctx, *id, *prompt)
		return err
	})
	if err != nil {
		return err
	}
	printJob(os.Stdout, job, s.entryFor(job.ID))
	if *wait {
		return s.watch(ctx)
	}
	return nil
}

// watch prints tracker events until every job settled and downloads ended.
func (s *studio) watch(ctx context.Context) error {
	active := s.tracker.Active()
	if len(active) == 0 {
		fmt.Println("No active jobs.")
	}
	for _, job := range active {
		printJob(os.Stdout, job, s.entryFor(job.ID))
	}

	done := make(chan error, 1)
	go func() { done <- s.tracker.Wait(ctx) }()
	for {
		select {
		case ev := <-s.tracker.Events():
			s.printEvent(ev)
		case err := <-done:
			for {
				select {
				case ev := <-s.tracker.Events():
					s.printEvent(ev)
				default:
					return err
				}
			}
		}
	}
}

func (s *studio) printEvent(ev tracker.Event) {
	switch ev.Kind {
	case tracker.EventError:
		fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
	case tracker.EventJobFailed:
		fmt.Printf("%s  %s: %s\n", ev.JobID, statusLabel(domain.JobStatusFailed), ev.Message)
	default:
		if domain.IsPlaceholderID(ev.JobID) || ev.Message == "deleted" {
			return
		}
		job, err := s.tracker.Select(ev.JobID)
		if err != nil {
			return
		}
		printJob(os.Stdout, job, s.entryFor(ev.JobID))
	}
}

func (s *studio) show(args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	id := fs.String("id", "", "video id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	job, err := s.tracker.Select(*id)
	if err != nil {
		return err
	}
	printJob(os.Stdout, job, s.entryFor(*id))
	return nil
}

func (s *studio) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	id := fs.String("id", "", "video id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := s.withPassword(ctx, func() error { return s.tracker.Delete(ctx, *id) }); err != nil {
		return err
	}
	fmt.Printf("Deleted %s.\n", *id)
	return nil
}

func (s *studio) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	id := fs.String("id", "", "video id (required)")
	out := fs.String("out", "", "output zip file (default <id>.zip)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = *id + ".zip"
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	err = s.withPassword(ctx, func() error { return s.tracker.Export(ctx, *id, f) })
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	fmt.Printf("Exported %s to %s.\n", *id, path)
	return nil
}

func (s *studio) entryFor(id string) *domain.HistoryEntry {
	if e, ok := s.tracker.Entry(id); ok {
		return &e
	}
	return nil
}

// ensurePassword prompts once when the gateway requires a password and none
// is configured.
func (s *studio) ensurePassword(ctx context.Context) error {
	if s.client.HasPasswordHash() {
		return nil
	}
	required, err := s.client.PasswordRequired(ctx)
	if err != nil || !required {
		return err
	}
	return s.promptPassword()
}

// withPassword runs fn and asks for the password again on 401.
func (s *studio) withPassword(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxPasswordTries; attempt++ {
		err = fn()
		if !errors.Is(err, apiclient.ErrUnauthorized) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			fmt.Fprintln(os.Stderr, "Invalid password.")
		}
		if perr := s.promptPassword(); perr != nil {
			return perr
		}
	}
	return err
}

func (s *studio) promptPassword() error {
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := s.in.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	s.client.SetPasswordHash(middleware.HashPassword(strings.TrimRight(line, "\r\n")))
	return nil
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
