// Package cmd wires the command-line front-end onto the DLNA server
// core: flag parsing, configuration validation, logging setup, and
// graceful shutdown on signal.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	alog "github.com/anacrolix/log"
	"github.com/spf13/cobra"

	"github.com/homelan/dlnaserve/internal/dlna"
	"github.com/homelan/dlnaserve/internal/mediaflags"
	"github.com/homelan/dlnaserve/internal/udn"
)

var opts = mediaflags.DefaultOptions()

// RootCmd is the dlnaserve binary's entry point.
var RootCmd = &cobra.Command{
	Use:   "dlnaserve",
	Short: "Zero-configuration DLNA/UPnP media server",
	Long: `dlnaserve makes a local directory tree discoverable and playable by
DLNA/UPnP client devices on the same network: smart TVs, game consoles,
and media player apps.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	opts.AddFlags(RootCmd.Flags())
}

// Execute runs the root command; callers should os.Exit with its result.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dlnaserve:", err)
		if code, ok := err.(exitCoder); ok {
			return int(code.ExitCode())
		}
		return int(mediaflags.ExitInvalidConfig)
	}
	return int(mediaflags.ExitOK)
}

// exitCoder lets a returned error carry a specific process exit code.
type exitCoder interface {
	error
	ExitCode() mediaflags.ExitCode
}

type exitError struct {
	code mediaflags.ExitCode
	err  error
}

func (e exitError) Error() string                { return e.err.Error() }
func (e exitError) ExitCode() mediaflags.ExitCode { return e.code }

func runServer(cmd *cobra.Command, args []string) error {
	if code, err := opts.Validate(); err != nil {
		return exitError{code, err}
	}

	logger := alog.Default.WithNames("dlnaserve")
	if opts.Verbose {
		logger.Levelf(alog.Debug, "verbose logging enabled")
	}

	bindIP := opts.BindIP
	if bindIP == "" {
		ip, err := primaryOutboundIPv4()
		if err != nil {
			return exitError{mediaflags.ExitInvalidConfig, fmt.Errorf("auto-detect bind IP: %w", err)}
		}
		bindIP = ip
	}
	baseURL := fmt.Sprintf("http://%s:%d/", bindIP, opts.Port)

	absDir, err := absPath(opts.Directory)
	if err != nil {
		return exitError{mediaflags.ExitDirectoryMissing, err}
	}
	deviceUDN := udn.Resolve(fmt.Sprintf("%s:%s", hostnameOrDefault(), absDir))

	cfg := dlna.Config{
		Identity: dlna.Identity{
			UDN:          deviceUDN,
			FriendlyName: opts.FriendlyName,
			Manufacturer: "dlnaserve",
			ModelName:    "dlnaserve",
			ModelNumber:  "1.0",
			BaseURL:      baseURL,
		},
		Directory:        absDir,
		Interfaces:       opts.Interfaces,
		AnnounceInterval: opts.AnnounceInterval,
		Logger:           logger,
	}

	srv, err := dlna.New(cfg)
	if err != nil {
		return exitError{mediaflags.ExitDirectoryMissing, err}
	}

	addr := fmt.Sprintf("%s:%d", bindIP, opts.Port)
	if err := srv.Serve(addr); err != nil {
		if isAddrInUse(err) {
			return exitError{mediaflags.ExitPortInUse, err}
		}
		return exitError{mediaflags.ExitInvalidConfig, err}
	}
	logger.Levelf(alog.Info, "serving %s as %q on %s", absDir, opts.FriendlyName, addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	forceExit := make(chan os.Signal, 1)
	go func() {
		<-ctx.Done()
		// Register only after the first signal has been consumed, so that
		// only a second signal reaches forceExit.
		signal.Notify(forceExit, os.Interrupt, syscall.SIGTERM)
		<-forceExit
		logger.Levelf(alog.Warning, "second signal received, exiting immediately")
		os.Exit(1)
	}()

	<-ctx.Done()
	logger.Levelf(alog.Info, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Levelf(alog.Warning, "shutdown: %v", err)
	}
	return nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

func absPath(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is not a directory", dir)
	}
	return filepath.Abs(dir)
}

// primaryOutboundIPv4 picks the IPv4 address of the interface the kernel
// would use to route to the SSDP multicast group, per spec's bind-IP
// discovery rule, without actually sending any multicast traffic.
func primaryOutboundIPv4() (string, error) {
	conn, err := net.Dial("udp4", "239.255.255.250:1900")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
