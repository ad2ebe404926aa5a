// Package tunnel manages SSH local port-forwards to remote database
// endpoints. An existing forward matching the requested target is reused and
// left untouched on release; otherwise a new ssh process is spawned on a
// probed ephemeral port and owned by this invocation until Release.
package tunnel

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tunneldump/internal/cleanup"
	"tunneldump/internal/errors"
	"tunneldump/internal/logger"
	"tunneldump/internal/procscan"
)

const (
	portRangeMin = 20000
	portRangeMax = 59999
	portAttempts = 20

	settleInterval = 500 * time.Millisecond
	settlePolls    = 6
)

// Spec describes a requested forward
type Spec struct {
	JumpHost   string
	TargetHost string
	TargetPort int
}

// Handle represents an active forward. Reused handles are owned by another
// session and are never terminated by Release.
type Handle struct {
	LocalPort int
	PID       int32
	Reused    bool

	spec Spec
}

// Spec returns the request this handle satisfies
func (h *Handle) Spec() Spec {
	return h.spec
}

// SpawnFunc starts a background forwarding process for spec on localPort.
// Replaced in tests.
type SpawnFunc func(ctx context.Context, spec Spec, localPort int) error

// Manager acquires and releases tunnels
type Manager struct {
	log     logger.Logger
	scan    procscan.Scanner
	handler *cleanup.Handler
	spawn   SpawnFunc

	settleInterval time.Duration
	settlePolls    int
}

// NewManager creates a tunnel manager. handler may be nil when the caller
// manages teardown itself (tests).
func NewManager(log logger.Logger, scan procscan.Scanner, handler *cleanup.Handler) *Manager {
	m := &Manager{
		log:            log,
		scan:           scan,
		handler:        handler,
		settleInterval: settleInterval,
		settlePolls:    settlePolls,
	}
	m.spawn = m.sshSpawn
	return m
}

// Acquire returns a handle for the requested forward, reusing a running one
// when its command line matches the same jump host and target endpoint.
//
// The scan-then-create check is deliberately unlocked: two concurrent
// invocations may each create a tunnel to the same endpoint. Both are
// functional and each is torn down by its creator.
func (m *Manager) Acquire(ctx context.Context, spec Spec) (*Handle, error) {
	if h := m.findExisting(spec); h != nil {
		m.log.Info("Reusing existing tunnel",
			"local_port", h.LocalPort, "pid", h.PID, "target", spec.TargetHost)
		return h, nil
	}

	localPort, err := m.pickLocalPort()
	if err != nil {
		return nil, err
	}

	m.log.Info("Creating tunnel",
		"local_port", localPort, "jump_host", spec.JumpHost,
		"target", fmt.Sprintf("%s:%d", spec.TargetHost, spec.TargetPort))

	if err := m.spawn(ctx, spec, localPort); err != nil {
		return nil, errors.JumpUnreachable(spec.JumpHost, err)
	}

	pid, err := m.locateSpawned(localPort)
	if err != nil {
		return nil, err
	}

	h := &Handle{LocalPort: localPort, PID: pid, spec: spec}

	if m.handler != nil {
		name := cleanupName(h)
		m.handler.Register(name, func(context.Context) error {
			return m.Release(h)
		})
	}

	return h, nil
}

// Release terminates a tunnel this invocation created. Reused handles are
// left alone: another session owns the forwarding process.
func (m *Manager) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	if h.Reused {
		m.log.Debug("Leaving reused tunnel running", "local_port", h.LocalPort, "pid", h.PID)
		return nil
	}

	if m.handler != nil {
		m.handler.Unregister(cleanupName(h))
	}

	m.log.Info("Closing tunnel", "local_port", h.LocalPort, "pid", h.PID)
	if err := cleanup.TerminateProcess(int(h.PID), 2*time.Second); err != nil {
		return fmt.Errorf("failed to terminate tunnel pid %d: %w", h.PID, err)
	}
	return nil
}

// forwardPattern extracts the local port from an ssh -L argument
var forwardPattern = regexp.MustCompile(`-L[ =]?(\d+):([^: ]+):(\d+)`)

// findExisting scans the process table for an ssh forward matching spec
func (m *Manager) findExisting(spec Spec) *Handle {
	procs, err := m.scan.ListProcesses()
	if err != nil {
		m.log.Debug("Process scan failed, assuming no reusable tunnel", "error", err)
		return nil
	}

	for _, p := range procs {
		if !strings.Contains(p.Cmdline, "ssh") || !strings.Contains(p.Cmdline, spec.JumpHost) {
			continue
		}
		match := forwardPattern.FindStringSubmatch(p.Cmdline)
		if match == nil {
			continue
		}
		targetPort, _ := strconv.Atoi(match[3])
		if match[2] != spec.TargetHost || targetPort != spec.TargetPort {
			continue
		}
		localPort, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		return &Handle{LocalPort: localPort, PID: p.PID, Reused: true, spec: spec}
	}
	return nil
}

// pickLocalPort probes random ports in the ephemeral range until one binds
func (m *Manager) pickLocalPort() (int, error) {
	for i := 0; i < portAttempts; i++ {
		port := portRangeMin + rand.Intn(portRangeMax-portRangeMin+1)
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		_ = l.Close()
		return port, nil
	}
	return 0, errors.PortExhausted(portAttempts)
}

// locateSpawned finds the pid of the forward that ssh -f backgrounded,
// matching its command line first and falling back to the socket owner.
func (m *Manager) locateSpawned(localPort int) (int32, error) {
	needle := fmt.Sprintf("%d:", localPort)

	for i := 0; i < m.settlePolls; i++ {
		time.Sleep(m.settleInterval)

		if procs, err := m.scan.ListProcesses(); err == nil {
			for _, p := range procs {
				if strings.Contains(p.Cmdline, "ssh") && strings.Contains(p.Cmdline, "-L") &&
					strings.Contains(p.Cmdline, needle) {
					return p.PID, nil
				}
			}
		}

		if pid, err := m.scan.FindListener(localPort); err == nil {
			return pid, nil
		}
	}

	return 0, errors.TunnelNotFound(localPort, "")
}

// sshSpawn starts the forward with ssh -f, which forks to the background
// once the forward is established.
func (m *Manager) sshSpawn(ctx context.Context, spec Spec, localPort int) error {
	forward := fmt.Sprintf("%d:%s:%d", localPort, spec.TargetHost, spec.TargetPort)
	cmd := cleanup.SafeCommand(ctx, "ssh",
		"-f", "-N",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "ServerAliveInterval=30",
		"-o", "ServerAliveCountMax=3",
		"-o", "BatchMode=yes",
		"-L", forward,
		spec.JumpHost,
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ssh forward failed: %w\n%s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func cleanupName(h *Handle) string {
	return fmt.Sprintf("tunnel-%d", h.LocalPort)
}
