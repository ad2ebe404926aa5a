package cmd

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tunneldump/internal/procscan"
	"tunneldump/internal/tunnel"
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel [target-host[:port]]",
	Short: "Open an SSH port forward and hold it until interrupted",
	Long: `Open a port forward to the target through the configured jump host and
keep it alive until interrupted. Useful for ad-hoc client sessions
against a database that is only reachable through a bastion.

An already-running forward to the same target is reused; reused forwards
are left running on exit.

Examples:
  tunneldump tunnel 10.0.3.7:5432 --jump-host ops@bastion
  tunneldump tunnel db.internal --jump-host ops@bastion --db-type mysql`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := cfg.Host
		if len(args) > 0 {
			target = args[0]
		}
		return runTunnel(cmd, target)
	},
}

func init() {
	rootCmd.AddCommand(tunnelCmd)
}

func runTunnel(cmd *cobra.Command, target string) error {
	if cfg.JumpHost == "" {
		return fmt.Errorf("--jump-host required")
	}

	host := target
	port := cfg.EffectivePort()
	if h, p, err := net.SplitHostPort(target); err == nil {
		host = h
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid target port %q", p)
		}
	} else if strings.Contains(target, ":") {
		return fmt.Errorf("invalid target %q (expected host or host:port)", target)
	}

	mgr := tunnel.NewManager(log, procscan.NewSystemScanner(), handler)
	ctx := cmd.Context()

	h, err := mgr.Acquire(ctx, tunnel.Spec{
		JumpHost:   cfg.JumpHost,
		TargetHost: host,
		TargetPort: port,
	})
	if err != nil {
		return err
	}

	connectHost := tunnel.EffectiveHost(true)
	log.Info("Tunnel ready",
		"target", fmt.Sprintf("%s:%d", host, port),
		"jump_host", cfg.JumpHost,
		"reused", h.Reused)
	fmt.Printf("Forwarding %s:%d -> %s:%d via %s\n", connectHost, h.LocalPort, host, port, cfg.JumpHost)
	fmt.Println("Press Ctrl-C to close.")

	<-ctx.Done()

	if err := mgr.Release(h); err != nil {
		return fmt.Errorf("tunnel teardown failed: %w", err)
	}
	if h.Reused {
		log.Info("Leaving reused tunnel running", "local_port", h.LocalPort)
	} else {
		log.Info("Tunnel closed", "local_port", h.LocalPort)
	}
	return nil
}
