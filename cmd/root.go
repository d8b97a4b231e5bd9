// Package cmd wires the CLI surface spec §6.1 names onto cobra/pflag
// (teacher dependency, ambient stack — SPEC_FULL.md §1): a "run" command
// (also the implicit default) and a "stop" command that signals an
// already-running instance via its pidfile.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wpphttpd/wpphttpd/internal/config"
)

var cfg = config.Default()

// Root is the top-level command; main.go calls Root.Execute().
var Root = &cobra.Command{
	Use:           "wpphttpd",
	Short:         "A content-addressed static/CGI/SQTP HTTP server",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(c *cobra.Command, args []string) error {
		return runServe(c.Context())
	},
}

func init() {
	flags := Root.PersistentFlags()
	flags.IntVar(&cfg.ListenPortLow, "port-low", cfg.ListenPortLow, "low end of the port range to bind")
	flags.IntVar(&cfg.ListenPortHigh, "port-high", cfg.ListenPortHigh, "high end of the port range to bind")
	flags.IntVar(&cfg.TLSPort, "tls-port", cfg.TLSPort, "optional TLS sibling port (0 disables TLS)")
	flags.StringVar(&cfg.TLSCertFile, "tls-cert", cfg.TLSCertFile, "TLS certificate file")
	flags.StringVar(&cfg.TLSKeyFile, "tls-key", cfg.TLSKeyFile, "TLS private key file")
	flags.BoolVar(&cfg.LoopbackOnly, "loopback-only", cfg.LoopbackOnly, "bind only to 127.0.0.1")
	flags.StringVar(&cfg.DocumentRoot, "document-root", cfg.DocumentRoot, "document root directory")
	flags.StringVar(&cfg.VirtualHostDefault, "default-vhost", cfg.VirtualHostDefault, "fallback virtual host directory name")
	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "path to write logs to (default stderr)")
	flags.StringVar(&cfg.AbuseBlockDir, "abuse-block-dir", cfg.AbuseBlockDir, "accepted for CLI compatibility; shunning is tracked in-memory, see internal/abuse")
	flags.IntVar(&cfg.MaxAgeSeconds, "max-age", cfg.MaxAgeSeconds, "abuse-tracker sliding window, seconds")
	flags.IntVar(&cfg.CPUSecondLimit, "cpu-limit", cfg.CPUSecondLimit, "per-CGI-invocation CPU second limit")
	flags.IntVar(&cfg.MaxChild, "max-child", cfg.MaxChild, "maximum concurrent connections")
	flags.BoolVar(&cfg.TimeoutsOn, "timeouts", cfg.TimeoutsOn, "enforce request/response timeouts")
	flags.StringVar(&cfg.DropToUser, "user", cfg.DropToUser, "drop privileges to this user after binding")
	flags.BoolVar(&cfg.ChrootOn, "chroot", cfg.ChrootOn, "chroot into document-root after binding")
	flags.StringVar(&cfg.StartPage, "start-page", cfg.StartPage, "launch a browser at this URL on startup")
	flags.StringVar(&cfg.PidFile, "pid-file", cfg.PidFile, "pidfile path")
	flags.IntVar(&cfg.MaxRequestsPerConnection, "max-requests-per-conn", cfg.MaxRequestsPerConnection, "requests served per connection before forcing close")

	Root.AddCommand(stopCmd, runCmd)
}

// Execute runs the root command, printing any error to stderr.
func Execute() {
	if err := Root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "wpphttpd:", err)
		os.Exit(1)
	}
}
