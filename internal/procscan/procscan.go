// Package procscan abstracts the process-table and socket queries the tunnel
// manager needs, so reuse detection does not parse shelled-out ps/ss output.
// The production implementation is gopsutil-backed; tests supply a fake.
package procscan

import (
	"fmt"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo describes one running process
type ProcessInfo struct {
	PID     int32
	Cmdline string
}

// Scanner answers process and listener queries
type Scanner interface {
	// ListProcesses returns all processes with a readable command line
	ListProcesses() ([]ProcessInfo, error)

	// FindListener returns the pid owning the TCP listener on the given
	// local port, or an error if none is found.
	FindListener(port int) (int32, error)
}

// SystemScanner queries the live OS via gopsutil
type SystemScanner struct{}

// NewSystemScanner returns a scanner backed by the OS process table
func NewSystemScanner() *SystemScanner {
	return &SystemScanner{}
}

func (s *SystemScanner) ListProcesses() ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			// Kernel threads and processes we cannot inspect
			continue
		}
		infos = append(infos, ProcessInfo{PID: p.Pid, Cmdline: cmdline})
	}
	return infos, nil
}

func (s *SystemScanner) FindListener(port int) (int32, error) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return 0, fmt.Errorf("failed to list TCP connections: %w", err)
	}

	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == uint32(port) && c.Pid > 0 {
			return c.Pid, nil
		}
	}
	return 0, fmt.Errorf("no listener found on port %d", port)
}
