// Package mediaflags defines the server's startup configuration and how
// it is registered onto a command-line flag set.
package mediaflags

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// Options is the CLI's startup configuration record; cmd builds the
// server's dlna.Config from it.
type Options struct {
	Directory        string
	Port             int
	BindIP           string
	FriendlyName     string
	Interfaces       []string
	AnnounceInterval time.Duration
	Verbose          bool
	LogTrace         bool
}

// DefaultFriendlyName returns "ZeroConfigDLNA on <hostname>", falling
// back to a generic label if the hostname cannot be determined.
func DefaultFriendlyName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("ZeroConfigDLNA on %s", host)
}

// DefaultOptions returns the documented defaults for every field.
func DefaultOptions() Options {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Options{
		Directory:        cwd,
		Port:             8200,
		FriendlyName:     DefaultFriendlyName(),
		AnnounceInterval: 900 * time.Second,
	}
}

// AddFlags registers every Options field onto fs, in the teacher's style
// of exposing a flat flag set per collaborator package.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Directory, "directory", "d", o.Directory, "directory to serve")
	fs.IntVarP(&o.Port, "port", "p", o.Port, "HTTP port to listen on")
	fs.StringVar(&o.BindIP, "bind-ip", o.BindIP, "IPv4 address to bind and advertise (default: auto-detected)")
	fs.StringVar(&o.FriendlyName, "friendly-name", o.FriendlyName, "UPnP friendly name advertised to clients")
	fs.StringSliceVar(&o.Interfaces, "interface", o.Interfaces, "restrict SSDP to these network interfaces (default: all up, multicast-capable)")
	fs.DurationVar(&o.AnnounceInterval, "announce-interval", o.AnnounceInterval, "SSDP NOTIFY re-announce period")
	fs.BoolVarP(&o.Verbose, "verbose", "v", o.Verbose, "enable debug logging")
	fs.BoolVar(&o.LogTrace, "log-trace", o.LogTrace, "accepted but has no effect; HTTP request/response bodies are not logged")
}

// ExitCode enumerates the process exit codes spec'd for configuration and
// startup failures.
type ExitCode int

const (
	ExitOK               ExitCode = 0
	ExitInvalidConfig    ExitCode = 2
	ExitPortInUse        ExitCode = 3
	ExitDirectoryMissing ExitCode = 4
)

// Validate checks the fields a CLI cannot validate purely syntactically
// (port range, directory existence) and returns the exit code to use on
// failure.
func (o Options) Validate() (ExitCode, error) {
	if o.Port < 1 || o.Port > 65535 {
		return ExitInvalidConfig, fmt.Errorf("port %d out of range [1,65535]", o.Port)
	}
	info, err := os.Stat(o.Directory)
	if err != nil {
		return ExitDirectoryMissing, fmt.Errorf("served directory %q: %w", o.Directory, err)
	}
	if !info.IsDir() {
		return ExitDirectoryMissing, fmt.Errorf("served path %q is not a directory", o.Directory)
	}
	return ExitOK, nil
}
