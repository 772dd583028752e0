package extcap

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"pubcap/pkg/capture"
	"pubcap/pkg/config"
	"pubcap/pkg/pubsubws"
	"pubcap/pkg/sink"
)

type options struct {
	interfaces    bool
	version       string
	iface         string
	dlts          bool
	printConfig   bool
	capture       bool
	captureFilter string
	fifo          string
	channels      []string
	broker        string
	configPath    string
}

// NewCommand builds the root command with the flag surface the host
// analyzer invokes: discovery queries first, then --capture with a fifo
// and a channel list.
func NewCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "pubcap",
		Short:         "Capture pub/sub channel traffic as a pcap stream",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.interfaces, "extcap-interfaces", false, "list available interfaces")
	f.StringVar(&opts.version, "extcap-version", "", "version of the host analyzer")
	f.StringVar(&opts.iface, "extcap-interface", InterfaceValue, "interface to operate on")
	f.BoolVar(&opts.dlts, "extcap-dlts", false, "list link types of the interface")
	f.BoolVar(&opts.printConfig, "extcap-config", false, "list configurable options")
	f.BoolVar(&opts.capture, "capture", false, "start capturing")
	f.StringVar(&opts.captureFilter, "extcap-capture-filter", "", "capture filter (accepted, unused)")
	f.StringVar(&opts.fifo, "fifo", "", "output fifo or file; empty writes to stdout")
	f.StringArrayVar(&opts.channels, "channels", nil, "channel to capture; repeatable")
	f.StringVar(&opts.broker, "broker", "", "websocket URL of the pub/sub service")
	f.StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	out := cmd.OutOrStdout()
	switch {
	case opts.interfaces:
		WriteInterfaces(out)
	case opts.dlts:
		WriteDLTs(out)
	case opts.printConfig:
		WriteConfigArgs(out)
	case opts.capture:
		return runCapture(cmd.Context(), opts)
	}
	return nil
}

func runCapture(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.broker != "" {
		cfg.Broker = opts.broker
	}
	channels := opts.channels
	if len(channels) == 0 {
		channels = []string{"*"}
	}

	// stdout may be the capture stream itself, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.DialTimeout))
	defer cancel()
	conn, err := pubsubws.Dial(dialCtx, cfg.Broker, logger)
	if err != nil {
		return errors.Wrap(err, "connect to pub/sub service")
	}
	defer conn.Close()

	snk, err := sink.New(opts.fifo)
	if err != nil {
		return err
	}

	logger.Info("capture started", "broker", cfg.Broker, "channels", channels)
	if err := capture.Run(ctx, conn, channels, snk, logger); err != nil {
		return err
	}
	logger.Info("capture stopped")
	return nil
}
