// Command tether runs the sidecar bridge host and talks to a running one.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/mattjoyce/tether/internal/api"
	"github.com/mattjoyce/tether/internal/config"
	"github.com/mattjoyce/tether/internal/doctor"
	"github.com/mattjoyce/tether/internal/log"
	"github.com/mattjoyce/tether/internal/tui/watch"
)

var version = "dev"

// envToken supplies the bearer token for client commands.
const envToken = "TETHER_TOKEN"

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "start":
		return runStart(rest, stderr)
	case "status":
		return runStatus(rest, stdout, stderr)
	case "scan":
		return runScan(rest, stdout, stderr)
	case "login":
		return runLogin(rest, stdout, stderr)
	case "history":
		return runHistory(rest, stdout, stderr)
	case "watch":
		return runWatch(rest, stderr)
	case "doctor":
		return runDoctor(rest, stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "tether version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `tether - sidecar process bridge

Usage:
  tether <command> [flags]

Host:
  start              Spawn the worker, handshake, and serve the local API
  doctor             Validate configuration and the worker binary

Client (talks to a running host):
  status             Show worker health
  scan               Ask the worker for an NFC scan
  login              Forward credentials to the worker
  history            Show recent requests from the journal
  watch              Live terminal view

General:
  version            Show version information
  help               Show this help message

Common flags:
  --config PATH      Config file or directory (default: discovered)
  --api URL          API base URL (default: from config api.listen)
  --token TOKEN      Bearer token (default: $TETHER_TOKEN)
`)
}

// clientFlags are shared by every command that talks to a running host.
type clientFlags struct {
	configPath string
	apiURL     string
	token      string
	jsonOut    bool
}

func newClientFlagSet(name string, stderr io.Writer) (*pflag.FlagSet, *clientFlags) {
	cf := &clientFlags{}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cf.configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&cf.apiURL, "api", "", "API base URL")
	fs.StringVar(&cf.token, "token", os.Getenv(envToken), "Bearer token")
	fs.BoolVar(&cf.jsonOut, "json", false, "Output JSON")
	return fs, cf
}

// client builds an API client, falling back to the config's listen address.
func (cf *clientFlags) client() (*api.Client, error) {
	base := cf.apiURL
	if base == "" {
		cfg, err := config.LoadOrDefault(cf.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		base = baseURL(cfg.API.Listen)
	}
	return api.NewClient(base, cf.token), nil
}

func baseURL(listen string) string {
	if strings.HasPrefix(listen, "http://") || strings.HasPrefix(listen, "https://") {
		return listen
	}
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs, cf := newClientFlagSet("status", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to configure client: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to get status: %v\n", err)
		return 1
	}

	if cf.jsonOut {
		_ = printJSON(stdout, st)
	} else {
		fmt.Fprintf(stdout, "health:  %s (%s)\n", st.Health.State, st.Health.Message)
		fmt.Fprintf(stdout, "running: %t\n", st.Running)
		if st.WorkerPID > 0 {
			fmt.Fprintf(stdout, "pid:     %d\n", st.WorkerPID)
		}
		fmt.Fprintf(stdout, "pending: %d\n", st.Pending)
	}
	if !st.Health.OK() {
		return 2
	}
	return 0
}

func runScan(args []string, stdout, stderr io.Writer) int {
	fs, cf := newClientFlagSet("scan", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to configure client: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	res, err := client.Scan(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to scan NFC: %v\n", err)
		return exitCodeFor(err)
	}
	if cf.jsonOut {
		_ = printJSON(stdout, res)
		return 0
	}
	fmt.Fprintln(stdout, res.ID)
	return 0
}

func runLogin(args []string, stdout, stderr io.Writer) int {
	fs, cf := newClientFlagSet("login", stderr)
	user := fs.StringP("user", "u", "", "User name")
	pass := fs.StringP("pass", "p", "", "Password")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *user == "" {
		fmt.Fprintln(stderr, "Usage: tether login --user USER --pass PASS")
		return 1
	}
	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to configure client: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	res, err := client.Login(ctx, *user, *pass)
	if err != nil {
		fmt.Fprintf(stderr, "Login failed: %v\n", err)
		return exitCodeFor(err)
	}
	if cf.jsonOut {
		_ = printJSON(stdout, res)
		return 0
	}
	fmt.Fprintln(stdout, res.Token)
	return 0
}

func runHistory(args []string, stdout, stderr io.Writer) int {
	fs, cf := newClientFlagSet("history", stderr)
	limit := fs.IntP("limit", "n", 20, "Number of requests to show")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to configure client: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	entries, err := client.History(ctx, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read history: %v\n", err)
		return 1
	}

	if cf.jsonOut {
		_ = printJSON(stdout, entries)
		return 0
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "no requests recorded")
		return 0
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-8s  %-7s  %5dms  %s",
			e.CompletedAt.Local().Format("2006-01-02 15:04:05"), e.Type, e.Status, e.DurationMS, e.ID)
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Fprintln(stdout, line)
	}
	return 0
}

func runWatch(args []string, stderr io.Writer) int {
	fs, cf := newClientFlagSet("watch", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to configure client: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(client))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}

func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output JSON")
	probe := fs.Bool("probe", false, "Start the worker and check the handshake")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	d := doctor.New(cfg)
	result := d.Validate()
	if *probe && result.WorkerPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.HandshakeTimeout+cfg.Worker.GracePeriod+5*time.Second)
		defer cancel()
		d.Probe(ctx, newBridge(cfg, result.WorkerPath), result)
	}

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to format result: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	} else {
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

// exitCodeFor maps an API failure to a process exit code; 2 means the
// worker is not running.
func exitCodeFor(err error) int {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Code == api.CodeNotRunning {
		return 2
	}
	return 1
}
