package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// SummaryFileName returns dated summary file name
func SummaryFileName(day time.Time) string {
	return fmt.Sprintf("summary-%s.txt", day.Format(time.DateOnly))
}

// RenderSummary draws per-device results table
func RenderSummary(r *Report, at time.Time) string {
	tableString := &strings.Builder{}
	table := tablewriter.NewWriter(tableString)
	table.SetHeader([]string{"Device", "Hostname", "Transport", "Backup Status"})

	for _, res := range r.Results {
		table.Append([]string{res.Address, res.Hostname, string(res.Transport), string(res.Status)})
	}
	remote := "local only"
	switch {
	case r.Mirrored:
		remote = "copied to share"
	case r.MirrorErr != nil:
		remote = "share copy failed"
	}
	table.SetFooter([]string{fmt.Sprintf("%d failed", r.Failed()), remote, r.Elapsed.Round(time.Millisecond).String(), at.Format(time.RFC822)})
	table.Render()
	return tableString.String()
}

func (a *App) writeSummary(r *Report) {
	now := a.now()
	summary := RenderSummary(r, now)
	if a.Out != nil {
		fmt.Fprintln(a.Out, summary)
	}
	if a.SummaryDir == "" {
		return
	}

	fs := a.SummaryFs
	if fs == nil {
		fs = a.Fs
	}
	a.Logger.Info("Writing app summary output...")
	if err := fs.MkdirAll(a.SummaryDir, os.ModePerm); err != nil {
		a.Logger.Errorf("Unable to create app summary directory because of: %q", err)
		return
	}
	f, err := fs.OpenFile(filepath.Join(a.SummaryDir, SummaryFileName(now)), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		a.Logger.Errorf("Unable to create app summary output file because of: %q", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(summary); err != nil {
		a.Logger.Errorf("Unable to write app summary because of: %q", err)
		return
	}
	a.Logger.Info("Writing app summary output done")
}
