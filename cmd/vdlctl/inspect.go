package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/elfloader/govdl/internal/introspect"
	"github.com/elfloader/govdl/internal/ui/colorize"
)

func newInspectCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "inspect <host:port>",
		Short: "Fetch and browse a running loader's link-map",
		Long: `inspect connects to the address a govdl process was started with
--introspect and renders its current link-map as a scrollable table:
load base, entry point, reference count, and patch status for every
mapped file, the cleartext-HTTP/2 (h2c) equivalent of attaching a
debugger to read r_debug by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

// h2cClient builds an http.Client that speaks HTTP/2 over a plain TCP
// connection (no TLS), the client half of internal/introspect's h2c
// server.
func h2cClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

func runInspect(addr string, timeout time.Duration) error {
	client := h2cClient()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/linkmap", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("vdlctl: inspect %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vdlctl: inspect %s: status %s", addr, resp.Status)
	}

	var snap introspect.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("vdlctl: decode snapshot: %w", err)
	}

	p := tea.NewProgram(newLinkMapModel(addr, snap))
	_, err = p.Run()
	return err
}

type linkMapModel struct {
	addr  string
	table table.Model
}

func newLinkMapModel(addr string, snap introspect.Snapshot) linkMapModel {
	columns := []table.Column{
		{Title: "ID", Width: 5},
		{Title: "Name", Width: 28},
		{Title: "Load Base", Width: 18},
		{Title: "Entry", Width: 18},
		{Title: "Refs", Width: 5},
		{Title: "Patched", Width: 8},
	}

	rows := make([]table.Row, 0, len(snap.Files))
	for _, f := range snap.Files {
		entry := "-"
		if f.Entry != 0 {
			entry = colorize.Address(f.Entry)
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", f.ID),
			colorize.Symbol(f.DisplayName),
			colorize.Address(f.LoadBase),
			entry,
			fmt.Sprintf("%d", f.RefCount),
			fmt.Sprintf("%v", f.Patched),
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(len(rows)+1),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(styles)

	return linkMapModel{addr: addr, table: t}
}

func (m linkMapModel) Init() tea.Cmd { return nil }

func (m linkMapModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m linkMapModel) View() string {
	header := colorize.Header(fmt.Sprintf("link-map @ %s", m.addr))
	return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Render(m.table.View()) + "\n" + header + "\n"
}
