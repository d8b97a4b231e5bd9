package httpd

import (
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	ilog "github.com/wpphttpd/wpphttpd/internal/log"
)

// ErrAlreadyRunning describes a pidfile that names a process that is
// still alive. AcquireSingleInstance does not return it: it reports the
// running instance's port instead.
var ErrAlreadyRunning = errors.New("httpd: another instance is already running")

// AcquireSingleInstance implements spec §6.6's single-instance guard. The
// pidfile holds "<pid>:<port>" (spec §6.4). If it names a process that is
// still alive, runningPort is that process's port and the caller's job is
// to launch a browser against it and exit cleanly — not to treat it as a
// failure. A stale pidfile (pid no longer alive) is removed so the caller
// can proceed to bind its own listener.
func AcquireSingleInstance(pidFile string) (runningPort int, err error) {
	if pidFile == "" {
		return 0, nil
	}
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, nil
	}
	pid, port, ok := parsePidFile(string(data))
	if ok && processAlive(pid) {
		return port, nil
	}
	_ = os.Remove(pidFile)
	return 0, nil
}

func parsePidFile(s string) (pid, port int, ok bool) {
	s = strings.TrimSpace(s)
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return 0, 0, false
	}
	p, err1 := strconv.Atoi(s[:idx])
	q, err2 := strconv.Atoi(s[idx+1:])
	if err1 != nil || err2 != nil || p <= 0 {
		return 0, 0, false
	}
	return p, q, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Stop implements the "stop" subcommand (spec §6.1 "--stop"): read the
// pidfile and send the named process SIGTERM, the same signal the
// connection server's graceful-shutdown handler listens for (spec §9).
func Stop(pidFile string) error {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return errors.Wrap(err, "httpd: read pidfile")
	}
	pid, _, ok := parsePidFile(string(data))
	if !ok {
		return errors.New("httpd: malformed pidfile")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrap(err, "httpd: find process")
	}
	return proc.Signal(syscall.SIGTERM)
}

// NotifyReady tells an enclosing systemd unit the listener is bound and
// the server is ready to accept connections (spec §4.6's process
// supervisor step). It is a no-op outside a systemd notify-socket
// environment.
func NotifyReady() {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		ilog.Errorf("sd_notify READY failed: %v", err)
	} else if sent {
		ilog.Logf("sd_notify: READY=1")
	}
}

// NotifyStopping tells an enclosing systemd unit a graceful shutdown has
// begun.
func NotifyStopping() {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		ilog.Errorf("sd_notify STOPPING failed: %v", err)
	}
}

// DropPrivileges implements spec §6.1's "--user" flag: after binding the
// listener as root, permanently switch the process's uid/gid to the
// named user. Must be called before accepting any connection.
func DropPrivileges(username string) error {
	if username == "" {
		return nil
	}
	if runtime.GOOS != "linux" {
		return errors.New("httpd: privilege drop is only implemented on linux")
	}
	u, err := lookupUser(username)
	if err != nil {
		return err
	}
	if err := unix.Setgroups(nil); err != nil {
		return errors.Wrap(err, "httpd: clear supplementary groups")
	}
	if err := unix.Setgid(u.gid); err != nil {
		return errors.Wrap(err, "httpd: setgid")
	}
	if err := unix.Setuid(u.uid); err != nil {
		return errors.Wrap(err, "httpd: setuid")
	}
	return nil
}

type uidGid struct{ uid, gid int }

// lookupUser shells out to `id` rather than depending on cgo-backed
// os/user name resolution, matching the static-binary deployment model
// the rest of this CLI assumes.
func lookupUser(name string) (uidGid, error) {
	uidOut, err := exec.Command("id", "-u", name).Output()
	if err != nil {
		return uidGid{}, errors.Wrapf(err, "httpd: lookup uid for %s", name)
	}
	gidOut, err := exec.Command("id", "-g", name).Output()
	if err != nil {
		return uidGid{}, errors.Wrapf(err, "httpd: lookup gid for %s", name)
	}
	uid, err := strconv.Atoi(strings.TrimSpace(string(uidOut)))
	if err != nil {
		return uidGid{}, errors.Wrap(err, "httpd: parse uid")
	}
	gid, err := strconv.Atoi(strings.TrimSpace(string(gidOut)))
	if err != nil {
		return uidGid{}, errors.Wrap(err, "httpd: parse gid")
	}
	return uidGid{uid: uid, gid: gid}, nil
}

// Chroot implements spec §6.1's "--chroot": change root to dir. Must run
// while still privileged, before DropPrivileges.
func Chroot(dir string) error {
	if dir == "" {
		return nil
	}
	if err := syscall.Chroot(dir); err != nil {
		return errors.Wrapf(err, "httpd: chroot to %s", dir)
	}
	return os.Chdir("/")
}

// LaunchBrowser implements spec §6.1's "--start-page" convenience flag:
// best-effort, never fatal if no browser is found.
func LaunchBrowser(url string) {
	if url == "" {
		return
	}
	var bin string
	switch runtime.GOOS {
	case "darwin":
		bin = "open"
	case "windows":
		bin = "rundll32"
	default:
		bin = "xdg-open"
	}
	if _, err := exec.LookPath(bin); err != nil {
		ilog.Debugf("no browser launcher found for %s: %v", runtime.GOOS, err)
		return
	}
	if err := exec.Command(bin, url).Start(); err != nil {
		ilog.Debugf("failed to launch browser: %v", err)
	}
}

// WritePidPort writes "<pid>:<port>\n" to path (spec §6.4's pidfile
// format), overwriting any existing file. Called once the listener has
// actually bound a port, so the file always names a port someone can
// connect to.
func WritePidPort(path string, port int) error {
	if path == "" {
		return nil
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	line := strconv.Itoa(os.Getpid()) + ":" + strconv.Itoa(port) + "\n"
	return os.WriteFile(path, []byte(line), 0o644)
}

// WaitForSignal blocks until SIGTERM or SIGINT is received, then returns.
// The connection server's caller uses this to trigger graceful shutdown
// (spec §9: "SIGTERM begins a graceful drain").
func WaitForSignal() os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(ch)
	return <-ch
}
