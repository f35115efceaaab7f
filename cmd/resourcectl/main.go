// Command resourcectl drives the resource state engine: it seeds master data,
// changes and queries resource states, renders screen pages, exports the state
// log and serves the HTTP API. Storage and blob backends come from the
// RESOURCECORE_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"resourcecore/internal/adapters/httpapi"
	"resourcecore/internal/blob"
	"resourcecore/internal/core"
)

var exitFunc = os.Exit

const usage = `usage: resourcectl <command> [flags]

commands:
  seed       load resource types, states, resources and screens from a JSON file
  set-state  change the state of a resource
  find       search resources by type, text and state
  history    list the state events of a resource
  page       refresh and print one page of a screen
  export     write the state log to the blob store
  import     replay an exported state log
  serve      run the HTTP API
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

// env carries what every command needs.
type env struct {
	svc    *core.Service
	logger *core.ZerologLogger
	stdout io.Writer
	stderr io.Writer
	close  func()
}

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"seed":      cmdSeed,
	"set-state": cmdSetState,
	"find":      cmdFind,
	"history":   cmdHistory,
	"page":      cmdPage,
	"export":    cmdExport,
	"import":    cmdImport,
	"serve":     cmdServe,
}

var errUsage = errors.New("usage")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	logger := core.NewConsoleLogger(stderr, os.Getenv("RESOURCECORE_LOG_LEVEL"), os.Getenv("RESOURCECORE_LOG_PRETTY") == "true")
	e, err := openEnv(logger, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer e.close()

	if err := cmd(ctx, e, args[1:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(stderr, "%s failed: %v\n", args[0], err)
		return 1
	}
	return 0
}

func openEnv(logger *core.ZerologLogger, stdout, stderr io.Writer) (*env, error) {
	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return nil, err
	}
	closeStore := func() {}
	if closer, ok := store.(io.Closer); ok {
		closeStore = func() {
			if err := closer.Close(); err != nil {
				logger.Warn("close store", "error", err)
			}
		}
	}
	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithAuditRecorder(core.NewLogAuditRecorder(logger)),
	)
	return &env{svc: svc, logger: logger, stdout: stdout, stderr: stderr, close: closeStore}, nil
}

func newFlagSet(name string, e *env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdSetState(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("set-state", e)
	resourceID := fs.Int64("resource", 0, "resource id")
	stateID := fs.Int64("state", 0, "state id (0 resets to unset)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *resourceID <= 0 || *stateID < 0 {
		fs.Usage()
		return errUsage
	}
	if err := e.svc.SetState(ctx, *resourceID, *stateID); err != nil {
		return err
	}
	latest, err := e.svc.ResolveLatestStates(ctx, []int64{*resourceID})
	if err != nil {
		return err
	}
	return printJSON(e.stdout, map[string]any{"resource_id": *resourceID, "state_id": latest[*resourceID]})
}

func cmdFind(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("find", e)
	typeID := fs.Int64("type", 0, "resource type id (0 for all types)")
	search := fs.String("q", "", "search text")
	stateID := fs.Int64("state", 0, "latest state filter (0 disables)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	var resourceType *core.ResourceType
	if *typeID > 0 {
		rt, ok, err := e.svc.GetResourceType(ctx, *typeID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("resource type %d not found", *typeID)
		}
		resourceType = &rt
	}
	resources, err := e.svc.FindResources(ctx, resourceType, *search, *stateID)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, resources)
}

func cmdHistory(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("history", e)
	resourceID := fs.Int64("resource", 0, "resource id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *resourceID <= 0 {
		fs.Usage()
		return errUsage
	}
	events, err := e.svc.ListStateHistory(ctx, *resourceID)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, events)
}

func cmdPage(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("page", e)
	screenID := fs.Int64("screen", 0, "screen id")
	page := fs.Int("page", 0, "zero-based page number")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *screenID <= 0 {
		fs.Usage()
		return errUsage
	}
	_, slots, err := e.svc.RefreshStoredScreen(ctx, *screenID, *page)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, slots)
}

func cmdExport(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("export", e)
	prefix := fs.String("prefix", "exports", "blob key prefix")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	store, err := blob.Open(ctx)
	if err != nil {
		return err
	}
	manifest, err := e.svc.ExportStateLog(ctx, store, *prefix)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, manifest)
}

func cmdImport(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("import", e)
	key := fs.String("key", "", "blob key of an exported events.ndjson")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *key == "" {
		fs.Usage()
		return errUsage
	}
	store, err := blob.Open(ctx)
	if err != nil {
		return err
	}
	n, err := e.svc.ImportStateLog(ctx, store, *key)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, map[string]any{"key": *key, "events": n})
}

func cmdServe(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("serve", e)
	addr := fs.String("addr", ":8080", "listen address")
	exports := fs.Bool("exports", true, "enable POST /api/v1/exports")
	trace := fs.Bool("trace", false, "write operation spans as JSON lines to stderr")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return err
	}
	opts := []core.ServiceOption{
		core.WithLogger(e.logger),
		core.WithAuditRecorder(core.NewLogAuditRecorder(e.logger)),
		core.WithMetricsRecorder(metrics),
	}
	if *trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(e.stderr)))
	}
	svc := core.NewService(e.svc.Store(), opts...)

	cfg := httpapi.Config{Registry: reg, Logger: e.logger}
	if *exports {
		store, err := blob.Open(ctx)
		if err != nil {
			return err
		}
		cfg.Exports = store
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           httpapi.NewHandler(svc, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	e.logger.Info("serving", "addr", *addr)

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	e.logger.Info("server stopped")
	return nil
}
