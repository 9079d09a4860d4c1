package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/v1truv1us/fleettools-sub002/internal/config"
	"github.com/v1truv1us/fleettools-sub002/internal/serverinfo"
	"github.com/v1truv1us/fleettools-sub002/internal/ui"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server owning this flightline",
	Long: `Look up the server registered for the data directory and probe its
health and stats endpoints over HTTP.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStatus(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the machine-readable shape behind --json; the table view
// renders the same fields.
type statusReport struct {
	Running     bool             `json:"running"`
	Server      *serverinfo.Info `json:"server,omitempty"`
	Health      *healthProbe     `json:"health,omitempty"`
	Stats       *statsProbe      `json:"stats,omitempty"`
	VersionSkew string           `json:"version_skew,omitempty"`
	Error       string           `json:"error,omitempty"`
}

type healthProbe struct {
	Status       string `json:"status"`
	ReadOnly     bool   `json:"read_only"`
	WALSizeBytes int64  `json:"wal_size_bytes"`
	LatencyMS    int64  `json:"latency_ms"`
}

type statsProbe struct {
	Missions struct {
		Total      int64 `json:"total"`
		InProgress int64 `json:"in_progress"`
	} `json:"missions"`
	Sorties struct {
		Total int64 `json:"total"`
	} `json:"sorties"`
	Specialists     int64 `json:"specialists"`
	ActiveLocks     int64 `json:"active_locks"`
	PendingMessages int64 `json:"pending_messages"`
	Events          int64 `json:"events"`
	UptimeMS        int64 `json:"uptime_ms"`
}

func runStatus() error {
	cfg, err := config.Load(dataDirFlag)
	if err != nil {
		return err
	}

	report := statusReport{}
	info, err := serverinfo.Read(cfg)
	if err != nil {
		return err
	}
	if info == nil {
		report.Error = fmt.Sprintf("no server registered for %s (run 'fleet serve')", cfg.DataDir)
		return emitStatus(report)
	}
	report.Server = info
	report.VersionSkew = versionSkew(Version, info.Version)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	health := &healthProbe{}
	if err := probeJSON(ctx, info.ListenAddr, "/api/v1/health", health); err != nil {
		report.Error = fmt.Sprintf("server registered (pid %d) but not answering: %v", info.PID, err)
		return emitStatus(report)
	}
	report.Running = true
	report.Health = health

	// Stats are best effort; a degraded store already shows in health.
	stats := &statsProbe{}
	if err := probeJSON(ctx, info.ListenAddr, "/api/v1/stats", stats); err == nil {
		report.Stats = stats
	}

	return emitStatus(report)
}

// versionSkew flags a CLI talking to a server from a different minor line.
// Patch drift is routine during rolling upgrades and stays quiet.
func versionSkew(cli, server string) string {
	cv := "v" + strings.TrimPrefix(cli, "v")
	sv := "v" + strings.TrimPrefix(server, "v")
	if !semver.IsValid(cv) || !semver.IsValid(sv) {
		return ""
	}
	if semver.MajorMinor(cv) != semver.MajorMinor(sv) {
		return fmt.Sprintf("client %s, server %s", cli, server)
	}
	return ""
}

// probeJSON fetches one endpoint and decodes the body. A 503 still decodes:
// the server is alive, its health payload says why it is unhappy.
func probeJSON(ctx context.Context, addr, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func emitStatus(report statusReport) error {
	if statusJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if report.Server == nil {
		fmt.Println(report.Error)
		return nil
	}

	rows := []ui.Row{
		{Label: "Data dir", Value: report.Server.DataDir},
		{Label: "PID", Value: fmt.Sprintf("%d", report.Server.PID)},
		{Label: "Version", Value: report.Server.Version},
		{Label: "Listen address", Value: report.Server.ListenAddr},
	}
	if report.VersionSkew != "" {
		rows = append(rows, ui.Row{Label: "Version skew", Value: ui.WarnStyle.Render(report.VersionSkew)})
	}

	if !report.Running {
		rows = append(rows, ui.Row{Label: "State", Value: ui.FailStyle.Render("not answering")})
		fmt.Print(ui.RenderKV("Fleet server", rows))
		fmt.Println(report.Error)
		return nil
	}

	state := ui.PassStyle.Render(report.Health.Status)
	if report.Health.Status != "ok" {
		state = ui.WarnStyle.Render(report.Health.Status)
	}
	rows = append(rows,
		ui.Row{Label: "State", Value: state},
		ui.Row{Label: "WAL size", Value: fmt.Sprintf("%d bytes", report.Health.WALSizeBytes)},
	)
	if report.Stats != nil {
		rows = append(rows,
			ui.Row{Label: "Uptime", Value: (time.Duration(report.Stats.UptimeMS) * time.Millisecond).Truncate(time.Second).String()},
			ui.Row{Label: "Missions", Value: fmt.Sprintf("%d (%d in progress)", report.Stats.Missions.Total, report.Stats.Missions.InProgress)},
			ui.Row{Label: "Sorties", Value: fmt.Sprintf("%d", report.Stats.Sorties.Total)},
			ui.Row{Label: "Specialists", Value: fmt.Sprintf("%d", report.Stats.Specialists)},
			ui.Row{Label: "Active locks", Value: fmt.Sprintf("%d", report.Stats.ActiveLocks)},
			ui.Row{Label: "Pending messages", Value: fmt.Sprintf("%d", report.Stats.PendingMessages)},
			ui.Row{Label: "Events", Value: fmt.Sprintf("%d", report.Stats.Events)},
		)
	}
	fmt.Print(ui.RenderKV("Fleet server", rows))
	return nil
}
