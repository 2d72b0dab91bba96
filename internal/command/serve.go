package command

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/nitesh/story_service/internal/api"
	"github.com/nitesh/story_service/internal/lifecycle"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	// the app shell may not be reachable yet; requests still work uncached
	if err := app.Worker.Install(ctx); err != nil {
		log.Printf("warning: worker install failed: %v", err)
	}
	if _, err := app.Worker.Activate(ctx); err != nil {
		log.Printf("warning: worker activate failed: %v", err)
	}

	glue := lifecycle.New(app.Sync, app.Session, app.Monitor, app.Hub)
	glue.Attach(ctx, app.Monitor)
	app.Monitor.Start(ctx, app.Cfg.ProbeInterval)
	glue.StartupCheck(ctx, app.Cfg.StartupDelay)

	handler := api.NewHandler(app.Service, app.Sync, app.Worker, app.Hub, app.Remote, app.Session)
	router := gin.Default()
	api.RegisterRoutes(router, handler)

	srv := &http.Server{
		Addr:    app.Cfg.ListenAddr,
		Handler: api.CorsSettings(app.Cfg.AllowedOrigins).Handler(router),
	}
	// event streams end when the process is asked to stop
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s (app %s, api %s)", app.Cfg.ListenAddr, app.Cfg.AppOrigin, app.Cfg.APIBaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}
	glue.Wait()
	return nil
}
