package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amirbrooks/tasker-engine/internal/api"
	"github.com/amirbrooks/tasker-engine/internal/store"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve [--listen <addr>]",
		Short: "Serve the HTTP API and the expiry event stream",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: config listen)")
	return cmd
}

// serve runs until ctx is cancelled, then drains the server and writes a
// final snapshot.
func (a *app) serve(ctx context.Context, listen string) error {
	var broker *api.Broker
	e, err := a.open(ctx, store.WithExpiryFunc(func(id string) { broker.Expired(id) }))
	if err != nil {
		return err
	}
	defer e.close()
	broker = api.NewBroker(time.Now, e.log)

	if listen == "" {
		listen = e.cfg.Listen
	}
	srv := api.NewServer(e.store, broker, e.log)
	// Event streams end when ctx does.
	srv.Server.BaseContext = func(net.Listener) context.Context { return ctx }

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start(listen)
	}()
	e.log.WithField("listen", listen).Info("serving")
	fmt.Fprintf(a.stdout, "Listening on %s\n", listen)

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = e.store.Close(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		e.log.WithError(err).Warn("shutdown did not drain cleanly")
	}
	return e.store.Close(shutdownCtx)
}
