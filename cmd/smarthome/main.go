// Command smarthome runs the home assistant agents, either as an interactive
// console session or as an HTTP server.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	smarthome "github.com/Aidanwa/smart-home"
	"github.com/Aidanwa/smart-home/config"
	"github.com/Aidanwa/smart-home/logging"
	"github.com/Aidanwa/smart-home/metrics"
	"github.com/Aidanwa/smart-home/server"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	persona string
	serve   bool
	addr    string
	envFile string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "smarthome",
		Short:         "Talk to the smart home agents",
		Long:          "Runs an interactive console conversation with a persona, or serves the HTTP API with --serve.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.persona, "agent", "", "persona to talk to (defaults to DEFAULT_AGENT)")
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "serve the HTTP API instead of the console")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (defaults to HTTP_ADDR)")
	cmd.Flags().StringVar(&opts.envFile, "env", "", "dotenv file to load before reading the environment")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "smarthome:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts rootOptions, in io.Reader, out io.Writer) error {
	var envFiles []string
	if opts.envFile != "" {
		envFiles = append(envFiles, opts.envFile)
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	m := metrics.New(func(o *metrics.Options) {
		o.RuntimeCollectors = opts.serve
	})

	// Delegated answers reach the console through the primary turn, so
	// nested fragments are not printed separately.
	home, err := smarthome.New(cfg, func(o *smarthome.Options) {
		o.Logger = logger
		o.Metrics = m
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := home.Close(); err != nil {
			logger.Error("smarthome.close_failed", "error", err.Error())
		}
	}()

	if opts.serve {
		listen := opts.addr
		if listen == "" {
			listen = cfg.HTTPAddr
		}
		return server.New(home, func(o *server.Options) {
			o.Logger = logger
		}).ListenAndServe(ctx, listen)
	}

	name := opts.persona
	if name == "" {
		name = cfg.DefaultAgent
	}
	return console(ctx, home, name, in, out, logger)
}

// console runs a read/answer loop on in and out until "stop", "exit", EOF
// or cancellation.
func console(ctx context.Context, home *smarthome.SmartHome, persona string, in io.Reader, out io.Writer, logger logging.Logger) error {
	conv, err := home.NewConversation(ctx, persona)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Talking to %s (session %s). Type \"stop\" to quit.\n", persona, conv.ID())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		prompt := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(prompt) {
		case "":
			continue
		case "stop", "exit":
			return nil
		}

		fmt.Fprintf(out, "%s: ", persona)
		turn := conv.Stream(ctx, prompt)
		for fragment := range turn.Fragments() {
			fmt.Fprint(out, fragment)
		}
		fmt.Fprintln(out)
		res := turn.Result()

		if err := conv.Save(context.WithoutCancel(ctx)); err != nil {
			logger.Error("console.save_failed", "session_id", conv.ID(), "error", err.Error())
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		if res.Err != nil {
			logger.Warn("console.turn_failed", "state", res.State.String(), "error", res.Err.Error())
		}
	}
}
