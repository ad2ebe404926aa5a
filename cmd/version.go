package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tunneldump/internal/cleanup"
)

var versionOutputFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and external tool availability",
	Run: func(cmd *cobra.Command, args []string) {
		runVersionCmd(cmd)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringVar(&versionOutputFormat, "format", "table", "Output format (table, json, short)")
}

type versionInfo struct {
	Version   string            `json:"version"`
	BuildTime string            `json:"build_time"`
	GitCommit string            `json:"git_commit"`
	GoVersion string            `json:"go_version"`
	OS        string            `json:"os"`
	Arch      string            `json:"arch"`
	Tools     map[string]string `json:"tools"`
}

func runVersionCmd(cmd *cobra.Command) {
	info := collectVersionInfo(cmd.Context())

	switch versionOutputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(info)
	case "short":
		fmt.Printf("tunneldump %s\n", info.Version)
	default:
		printVersionTable(info)
	}
}

// externalTools are the binaries tunneldump shells out to
var externalTools = []string{
	"ssh", "pg_dump", "psql", "mysqldump", "mysql", "age", "gpg",
}

func collectVersionInfo(ctx context.Context) versionInfo {
	info := versionInfo{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		GitCommit: cfg.GitCommit,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Tools:     make(map[string]string),
	}

	for _, tool := range externalTools {
		if _, err := exec.LookPath(tool); err != nil {
			info.Tools[tool] = "not found"
			continue
		}
		info.Tools[tool] = toolVersionLine(ctx, tool)
	}
	return info
}

// toolVersionLine asks a tool for its version, keeping only the first line
func toolVersionLine(ctx context.Context, tool string) string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	arg := "--version"
	if tool == "ssh" {
		arg = "-V" // ssh prints its version on stderr
	}

	cmd := cleanup.SafeCommand(ctx, tool, arg)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "installed"
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return "installed"
}

func printVersionTable(info versionInfo) {
	fmt.Printf("%s %s\n", color.CyanString("tunneldump"), info.Version)
	fmt.Printf("  build time:  %s\n", info.BuildTime)
	fmt.Printf("  git commit:  %s\n", info.GitCommit)
	fmt.Printf("  go version:  %s\n", info.GoVersion)
	fmt.Printf("  platform:    %s/%s\n", info.OS, info.Arch)
	fmt.Println("\nExternal tools:")
	for _, tool := range externalTools {
		status := info.Tools[tool]
		label := color.GreenString("%-10s", tool)
		if status == "not found" {
			label = color.RedString("%-10s", tool)
		}
		fmt.Printf("  %s %s\n", label, status)
	}
}
