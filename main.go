package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"vidprompt/api"
	"vidprompt/client"
	"vidprompt/config"
	"vidprompt/db"
	"vidprompt/prompt"
	"vidprompt/upload"
	"vidprompt/vid"
)

const usage = `usage:
  vidprompt serve
  vidprompt run <video.mp4> [-template t] [-goal g] [-language l] [-style s] [-picks n] [-candidates n]
  vidprompt frames <video.mp4> [-out dir] [-picks n] [-candidates n]
  vidprompt history list [-limit n] [-offset n]
  vidprompt history get <id>
  vidprompt history delete <id>
  vidprompt sweep`

func main() {
	cfg := config.Load()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.LogLevel,
		AddSource:  true,
		TimeFormat: "15:04:05",
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = serve(ctx, cfg)
	case "run":
		err = runPrompt(ctx, cfg, os.Args[2:])
	case "frames":
		err = saveFrames(os.Args[2:])
	case "history":
		err = history(ctx, cfg, os.Args[2:])
	case "sweep":
		err = sweep(ctx, cfg)
	default:
		slog.Error("Invalid command", "command", os.Args[1])
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// openStore picks the multipart backend named by STORAGE_TYPE.
func openStore(ctx context.Context, cfg config.Config) (db.MultipartStore, func(), error) {
	if cfg.StorageType == "gcs" {
		if cfg.GCSBucket == "" {
			return nil, nil, errors.New("GCS_BUCKET is required when STORAGE_TYPE=gcs")
		}
		storage, err := db.NewStorage(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using GCS storage", "bucket", cfg.GCSBucket)
		return storage, func() { storage.Close() }, nil
	}
	local, err := db.NewLocalStorage(cfg.UploadDir)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Using local storage", "dir", cfg.UploadDir)
	return local, func() {}, nil
}

func openCoordinator(ctx context.Context, cfg config.Config) (*upload.Coordinator, *gorm.DB, func(), error) {
	dbConn, err := db.GetOrCreateDB(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return upload.NewCoordinator(store, dbConn, cfg.SessionTTL), dbConn, closeStore, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	uploads, dbConn, closeStore, err := openCoordinator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	builder := prompt.NewBuilder(nil)
	if cfg.GeminiEnabled() {
		gen, err := prompt.NewGemini(ctx, cfg)
		if err != nil {
			return err
		}
		builder.Generator = gen
		slog.Info("Gemini generator ready", "model", cfg.GeminiModel, "backend", cfg.GeminiBackend)
	} else {
		slog.Warn("GEMINI_API_KEY is not set, make-prompt will fail")
	}

	go sweepLoop(ctx, uploads, cfg.SweepInterval)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewServer(uploads, builder, dbConn).Handler(),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("Shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("Server stopped cleanly")
	return nil
}

func sweepLoop(ctx context.Context, uploads *upload.Coordinator, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := uploads.Sweep(ctx); err != nil {
				slog.Error("Sweep failed", "error", err)
			}
		}
	}
}

func sweep(ctx context.Context, cfg config.Config) error {
	uploads, _, closeStore, err := openCoordinator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	n, err := uploads.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Swept %d expired upload sessions\n", n)
	return nil
}

// splitArgs separates the leading positional arguments from the flags.
func splitArgs(args []string) ([]string, []string) {
	for i, a := range args {
		if len(a) > 1 && a[0] == '-' {
			return args[:i], args[i:]
		}
	}
	return args, nil
}

func runPrompt(ctx context.Context, cfg config.Config, args []string) error {
	positional, rest := splitArgs(args)
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	template := fs.String("template", prompt.TemplateGeneral, "general, sdxl, midjourney or video")
	goal := fs.String("goal", "", "what the prompt is for")
	language := fs.String("language", "", "output language")
	style := fs.String("style", "", "writing style")
	picks := fs.Int("picks", vid.DefaultPicks, "frames to send")
	candidates := fs.Int("candidates", vid.DefaultCandidates, "frames to sample")
	fs.Parse(rest)
	positional = append(positional, fs.Args()...)
	if len(positional) != 1 {
		return errors.New("run needs exactly one video path")
	}
	path := positional[0]

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := client.CheckVideo(path, info.Size()); err != nil {
		return err
	}

	c := client.New(cfg.APIBase)
	var key string
	var selected []vid.Frame
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		key, err = c.UploadFile(gctx, path)
		return err
	})
	g.Go(func() error {
		var err error
		selected, err = vid.ExtractKeyframes(path, *picks, *candidates)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Upload and keyframes ready", "key", key, "frames", len(selected))

	frames := make([]string, len(selected))
	for i, f := range selected {
		frames[i] = f.DataURL()
	}
	resp, err := c.MakePrompt(ctx, client.PromptRequest{
		Frames:    frames,
		Template:  *template,
		Goal:      *goal,
		Language:  *language,
		Style:     *style,
		VideoKey:  key,
		VideoName: filepath.Base(path),
		VideoSize: info.Size(),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func saveFrames(args []string) error {
	positional, rest := splitArgs(args)
	fs := flag.NewFlagSet("frames", flag.ExitOnError)
	out := fs.String("out", "frames", "output directory")
	picks := fs.Int("picks", vid.DefaultPicks, "frames to keep")
	candidates := fs.Int("candidates", vid.DefaultCandidates, "frames to sample")
	fs.Parse(rest)
	positional = append(positional, fs.Args()...)
	if len(positional) != 1 {
		return errors.New("frames needs exactly one video path")
	}

	selected, err := vid.ExtractKeyframes(positional[0], *picks, *candidates)
	if err != nil {
		return err
	}
	paths, err := vid.WriteFrames(*out, selected)
	if err != nil {
		return err
	}
	for i, p := range paths {
		fmt.Printf("%s\t%.2fs\n", p, selected[i].Time)
	}
	return nil
}

func history(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("history needs list, get or delete")
	}
	c := client.New(cfg.APIBase)
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("history list", flag.ExitOnError)
		limit := fs.Int("limit", 20, "page size")
		offset := fs.Int("offset", 0, "rows to skip")
		fs.Parse(args[1:])
		page, err := c.ListHistory(ctx, *limit, *offset)
		if err != nil {
			return err
		}
		return printJSON(page)
	case "get", "delete":
		if len(args) != 2 {
			return fmt.Errorf("history %s needs an id", args[0])
		}
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil || id == 0 {
			return fmt.Errorf("invalid id %q", args[1])
		}
		if args[0] == "delete" {
			if err := c.DeleteHistory(ctx, uint(id)); err != nil {
				return err
			}
			fmt.Printf("Deleted run %d\n", id)
			return nil
		}
		run, err := c.GetHistory(ctx, uint(id))
		if err != nil {
			return err
		}
		return printJSON(run)
	default:
		return fmt.Errorf("unknown history command %q", args[0])
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
