// termixd is the background daemon that owns every PTY-backed shell
// session and serves the termix wire protocol over a Unix domain socket.
//
// Usage:
//
//	termixd [--daemon]
//
// Without --daemon, termixd runs attached to the invoking terminal; with
// it, termixd re-execs itself detached from the controlling terminal
// (new session, stdio redirected to /dev/null) and the original process
// exits as soon as the child has been started, without waiting for it to
// bind the socket.
// termixd is normally started automatically by termix; you do not need to
// run it by hand.
package main

import (
	"flag"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/ianremillard/termix/internal/config"
	"github.com/ianremillard/termix/internal/paths"
	"github.com/ianremillard/termix/internal/server"
)

func main() {
	daemonize := flag.Bool("daemon", false, "detach from the controlling terminal and run in the background")
	profileName := flag.String("profile", os.Getenv("TERMIX_PROFILE"), "named shell profile from profiles.yaml (env: TERMIX_PROFILE)")
	flag.Parse()

	socketPath := paths.SocketPath()
	pidPath := paths.PIDFilePath(socketPath)

	if *daemonize {
		respawnDetached()
		return
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		log.Fatalf("termixd: create socket dir: %v", err)
	}
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.Fatalf("termixd: write pid file: %v", err)
	}

	profiles, err := config.Load(config.DefaultPath())
	if err != nil {
		log.Fatalf("termixd: load profiles: %v", err)
	}

	d := server.New(profiles.Resolve(*profileName))

	installSignalHandlers(d)

	if err := d.Run(socketPath, pidPath); err != nil {
		log.Fatalf("termixd: %v", err)
	}
}

// respawnDetached re-execs the current binary (minus --daemon) in a new
// session with stdio redirected to /dev/null, then exits. This is the
// idiomatic-Go rendering of the classic double-fork: a raw fork() is
// unsafe once goroutines exist, so detachment is achieved by starting a
// genuinely new process instead of forking the current one.
func respawnDetached() {
	exe, err := os.Executable()
	if err != nil {
		log.Fatalf("termixd: resolve executable: %v", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		log.Fatalf("termixd: open %s: %v", os.DevNull, err)
	}
	defer devNull.Close()

	args := filterDaemonFlag(os.Args[1:])
	cmd := exec.Command(exe, args...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		log.Fatalf("termixd: spawn detached daemon: %v", err)
	}
}

// filterDaemonFlag drops --daemon/-daemon from an argument list so the
// detached child doesn't re-detach itself.
func filterDaemonFlag(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--daemon" || a == "-daemon" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// installSignalHandlers wires SIGTERM to graceful shutdown, SIGCHLD to a
// non-blocking reap loop draining every terminated child, and ignores
// SIGHUP (a detached daemon has no controlling terminal to hang up on).
func installSignalHandlers(d *server.Daemon) {
	signal.Ignore(syscall.SIGHUP)

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM)
	go func() {
		<-term
		log.Printf("termixd: received SIGTERM, shutting down")
		d.Shutdown()
		os.Exit(0)
	}()

	chld := make(chan os.Signal, 1)
	signal.Notify(chld, syscall.SIGCHLD)
	go func() {
		for range chld {
			reapChildren()
		}
	}()
}

// reapChildren drains every zombie child with non-blocking waitpid calls,
// matching spec §4.7/§5's "CHILD -> non-blocking reap loop of all
// zombies".
func reapChildren() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
	}
}
