package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/vbonduro/imagelab/internal/console"
	"github.com/vbonduro/imagelab/internal/session"
	"github.com/vbonduro/imagelab/internal/web"
)

var addrFlag string

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive terminal session",
	Args:  cobra.NoArgs,
	RunE:  runRepl,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session as a local JSON API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every backend's /health route",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (default $LISTEN_ADDR or :8090)")
}

func runRepl(cmd *cobra.Command, args []string) error {
	a, err := setup(true)
	if err != nil {
		return err
	}
	defer a.close()

	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	printer := console.NewPrinter(rl.Stdout())
	ctrl := session.New(a.registry, a.client, a.logger, session.Options{OnChange: printer.Notify})
	defer ctrl.Close()

	con := console.New(ctrl, a.registry, printer, a.client, a.library, a.cfg.MaxImageBytes, a.logger)
	return con.Run(cmd.Context(), rl)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.close()

	addr := a.cfg.ListenAddr
	if addrFlag != "" {
		addr = addrFlag
	}

	hub := web.NewHub()
	ctrl := session.New(a.registry, a.client, a.logger, session.Options{OnChange: hub.Publish, Previews: true})
	defer ctrl.Close()
	server := web.NewServer(ctrl, a.registry, hub, a.client, a.library, a.cfg.MaxImageBytes, a.logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.ListenAndServe(ctx, addr); err != nil {
		a.logger.Error("server error", "error", err)
		return err
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	down := 0
	statuses := a.client.HealthAll(cmd.Context())
	for _, h := range statuses {
		if h.OK() {
			fmt.Fprintf(out, "%-7s ok    %s\n", h.Service, h.Endpoint)
			continue
		}
		down++
		fmt.Fprintf(out, "%-7s DOWN  %s\n", h.Service, session.Describe(h.Err, a.registry))
	}
	if down > 0 {
		return fmt.Errorf("%d of %d services unreachable", down, len(statuses))
	}
	return nil
}
