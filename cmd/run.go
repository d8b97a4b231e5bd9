package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wpphttpd/wpphttpd/internal/abuse"
	"github.com/wpphttpd/wpphttpd/internal/httpd"
	"github.com/wpphttpd/wpphttpd/internal/jitcgi"
	ilog "github.com/wpphttpd/wpphttpd/internal/log"
	"github.com/wpphttpd/wpphttpd/internal/metrics"
	"github.com/wpphttpd/wpphttpd/internal/sqtp"
	"github.com/wpphttpd/wpphttpd/internal/vfs"

	"github.com/go-chi/chi/v5"
)

const serverSoftware = "wpphttpd/1.0"

// adminAddr is where /metrics and /healthz are served (spec
// SPEC_FULL.md §2: chi wired for "the admin/metrics endpoints"), kept
// off the public listener so a scraper never competes with real traffic
// for a connection slot.
const adminAddr = "127.0.0.1:9100"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server in the foreground (default command)",
	RunE: func(c *cobra.Command, args []string) error {
		return runServe(c.Context())
	},
}

// runServe builds every collaborator Deps names and serves until a
// shutdown signal arrives (spec §4.6 connection server, §6.6 process
// supervisor).
func runServe(ctx context.Context) error {
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		ilog.SetDefault(ilog.New(f))
	}

	if runningPort, err := httpd.AcquireSingleInstance(cfg.PidFile); err != nil {
		return err
	} else if runningPort != 0 {
		ilog.Logf("another instance already listens on port %d, launching browser instead", runningPort)
		httpd.LaunchBrowser(fmt.Sprintf("http://127.0.0.1:%d/", runningPort))
		return nil
	}

	ln, port, err := httpd.ListenRange(cfg.ListenPortLow, cfg.ListenPortHigh, cfg.LoopbackOnly)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	if cfg.ChrootOn {
		if err := httpd.Chroot(cfg.DocumentRoot); err != nil {
			return err
		}
	}
	if err := httpd.DropPrivileges(cfg.DropToUser); err != nil {
		return err
	}

	index := vfs.BuildImage()
	fsys := vfs.New(index)

	jitEnv, err := jitcgi.NewEnvironment(fsys.OpenIntercept)
	if err != nil {
		return fmt.Errorf("build jit-cgi environment: %w", err)
	}

	reg := prometheus.NewRegistry()
	metricsReg := metrics.New(reg)

	window := time.Duration(cfg.MaxAgeSeconds) * time.Second
	if window <= 0 {
		window = time.Hour
	}
	abuseTracker := abuse.New(window, 20, window*6)

	deps := httpd.Deps{
		Config:         cfg,
		VFS:            fsys,
		Metrics:        metricsReg,
		Abuse:          abuseTracker,
		JITEnv:         jitEnv,
		Compiler:       jitcgi.NewExecCompiler(""),
		Translator:     sqtp.NewTranslator(),
		ServerSoftware: serverSoftware,
	}
	server := httpd.New(deps)

	if err := httpd.WritePidPort(cfg.PidFile, port); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	defer func() {
		if cfg.PidFile != "" {
			_ = os.Remove(cfg.PidFile)
		}
	}()

	serveCtx, cancel := context.WithCancel(ctx)
	admin := &http.Server{Addr: adminAddr, Handler: adminRouter(reg)}
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ilog.Debugf("admin server stopped: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(serveCtx, ln) }()

	if cfg.TLSPort != 0 && cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		go serveTLS(serveCtx, server)
	}

	httpd.NotifyReady()
	if cfg.StartPage != "" {
		httpd.LaunchBrowser(cfg.StartPage)
	}

	go func() {
		httpd.WaitForSignal()
		httpd.NotifyStopping()
		cancel()
		_ = ln.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = admin.Shutdown(shutdownCtx)
	}()

	err = <-errCh
	if err == context.Canceled {
		return nil
	}
	return err
}

// serveTLS runs the optional TLS sibling port (spec §4.4/Glossary
// "optional TLS sibling port"): the same Server, a second listener.
func serveTLS(ctx context.Context, server *httpd.Server) {
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		ilog.Errorf("tls: load keypair: %v", err)
		return
	}
	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", cfg.TLSPort), &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		ilog.Errorf("tls: listen: %v", err)
		return
	}
	defer ln.Close()
	if err := server.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		ilog.Errorf("tls: serve: %v", err)
	}
}

func adminRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
