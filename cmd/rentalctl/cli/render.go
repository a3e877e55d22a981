package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/scaffold-rental/rental-admin/internal/customers"
)

// DriftRow is one customer whose stored status disagrees with its contracts.
type DriftRow struct {
	ID       int64            `json:"id"`
	Code     string           `json:"code"`
	Name     string           `json:"name"`
	Stored   customers.Status `json:"stored_status"`
	Expected customers.Status `json:"expected_status"`
}

// DriftRows flattens a drift report. Status is binary, so the expected value is the other one.
func DriftRows(stale []customers.Customer) []DriftRow {
	rows := make([]DriftRow, 0, len(stale))
	for _, c := range stale {
		expected := customers.StatusActive
		if c.Status == customers.StatusActive {
			expected = customers.StatusInactive
		}
		rows = append(rows, DriftRow{ID: c.ID, Code: c.Code, Name: c.Name, Stored: c.Status, Expected: expected})
	}
	return rows
}

// ScheduledRow describes a task waiting in the scheduled set.
type ScheduledRow struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	NextProcessAt time.Time `json:"next_process_at"`
	Retried       int       `json:"retried"`
	MaxRetry      int       `json:"max_retry"`
}

func ScheduledRows(infos []*asynq.TaskInfo) []ScheduledRow {
	rows := make([]ScheduledRow, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		rows = append(rows, ScheduledRow{
			ID:            info.ID,
			Type:          info.Type,
			NextProcessAt: info.NextProcessAt,
			Retried:       info.Retried,
			MaxRetry:      info.MaxRetry,
		})
	}
	return rows
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func RenderDrift(w io.Writer, rows []DriftRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Code", "Name", "Stored", "Expected"})
	for _, r := range rows {
		tw.AppendRow(table.Row{r.ID, r.Code, r.Name, r.Stored, r.Expected})
	}
	tw.AppendFooter(table.Row{"", "", "Total", len(rows), ""})
	tw.Render()
}

func RenderQueueStats(w io.Writer, stats QueueStats) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Queue", "Pending", "Active", "Scheduled", "Retry", "Archived", "Failed Today", "Paused"})
	tw.AppendRow(table.Row{stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived, stats.Failed, stats.Paused})
	tw.Render()
}

func RenderScheduled(w io.Writer, rows []ScheduledRow, loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Type", "Next Run", "Retried", "Max Retry"})
	for _, r := range rows {
		tw.AppendRow(table.Row{r.ID, r.Type, r.NextProcessAt.In(loc).Format(time.RFC3339), r.Retried, r.MaxRetry})
	}
	tw.Render()
}
