package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/gibridge/gibridge"
	"github.com/gibridge/gibridge/agent"
	"github.com/gibridge/gibridge/middleware"
)

type CLI struct {
	Version VersionCmd `cmd:"" help:"Print version information."`
	Serve   ServeCmd   `cmd:"" help:"Serve a catalog over HTTP against a live agent."`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(Version())
	return nil
}

type ServeCmd struct {
	Catalog     string        `arg:"" help:"Path to the type catalog JSON file."`
	Agent       string        `help:"Agent address (host:port, or a unix socket path)." default:"127.0.0.1:27184"`
	Listen      string        `help:"HTTP listen address." default:":8080" short:"l"`
	EventBuffer int           `help:"Callback ring buffer capacity." default:"100" name:"event-buffer"`
	PoolSize    int           `help:"Maximum concurrent native calls." default:"8" name:"pool-size"`
	DialTimeout time.Duration `help:"Agent dial timeout." default:"10s"`
	LogLevel    string        `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error"`
	LogRequests bool          `help:"Log every dispatched operation."`
	CORSOrigins []string      `help:"Enable CORS for these origins (use '*' for any)." name:"cors-origin"`
}

func (c *ServeCmd) Run() error {
	logger := newLogger(c.LogLevel)

	cat, err := gibridge.LoadRegistryFile(c.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.DialTimeout)
	defer cancel()

	app := gibridge.NewApp(cat, nil).
		WithLogger(logger).
		WithEventBuffer(c.EventBuffer).
		WithPoolSize(c.PoolSize)

	client, err := agent.Dial(ctx, c.Agent,
		agent.WithLogger(logger),
		agent.WithCallbackHandler(func(payload map[string]any) {
			app.PushEvent(payload)
		}),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	// The app was constructed before the client so the callback handler
	// could close over it.
	app = app.WithTransport(client)

	if c.LogRequests {
		app.WithUnaryInterceptor(middleware.LoggingInterceptor(logger))
	}
	if len(c.CORSOrigins) > 0 {
		app.WithMiddleware(middleware.CORS(&middleware.CORSConfig{AllowOrigins: c.CORSOrigins}))
	}
	defer app.Close()

	logger.Info("serving catalog",
		slog.String("namespace", cat.Namespace()),
		slog.String("listen", c.Listen),
		slog.String("agent", c.Agent))

	return http.ListenAndServe(c.Listen, app.Handler())
}

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("gibridge"),
		kong.Description("HTTP bridge exposing introspected native APIs of a live process."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
