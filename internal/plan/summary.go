// File: internal/plan/summary.go
// Brief: Plan run summary and human-friendly status table.

package plan

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

type Totals struct {
	Planned   int `json:"planned"`
	Complete  int `json:"complete"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Submitted int `json:"submitted"`
	Pending   int `json:"pending"`
}

type NodeSummary struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	BlockedBy string `json:"blockedBy,omitempty"`
	Action    string `json:"action,omitempty"`
	Level     int    `json:"level"`
	Attempts  int    `json:"attempts"`
}

type Summary struct {
	Description string                 `json:"description"`
	LockCode    string                 `json:"lockCode,omitempty"`
	Status      string                 `json:"status"`
	StartedAt   string                 `json:"startedAt"`
	FinishedAt  string                 `json:"finishedAt"`
	Totals      Totals                 `json:"totals"`
	Nodes       map[string]NodeSummary `json:"nodes"`
	Order       []string               `json:"order,omitempty"`
}

// Summary snapshots every step status.
func (p *Plan) Summary(startedAt time.Time) *Summary {
	s := &Summary{
		Description: p.opts.Description,
		LockCode:    p.opts.LockCode,
		Status:      "succeeded",
		StartedAt:   startedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Totals:      Totals{Planned: len(p.steps)},
		Nodes:       map[string]NodeSummary{},
	}
	for lvl, names := range p.levels {
		for _, name := range names {
			step := p.steps[name]
			st := step.Status()
			s.Nodes[name] = NodeSummary{
				Status:    st.Code.String(),
				Reason:    st.Reason,
				BlockedBy: p.BlockedBy(name),
				Action:    step.Action,
				Level:     lvl,
				Attempts:  step.Attempts(),
			}
			s.Order = append(s.Order, name)
			switch st.Code {
			case Complete:
				s.Totals.Complete++
			case Skipped:
				s.Totals.Skipped++
			case Failed:
				s.Totals.Failed++
			case Submitted:
				s.Totals.Submitted++
			default:
				s.Totals.Pending++
			}
		}
	}
	if s.Totals.Failed > 0 {
		s.Status = "failed"
	}
	return s
}

const maxReasonWidth = 140

// PrintSummaryTable renders a summary. Colour is applied only when useColor
// is set.
func PrintSummaryTable(w io.Writer, s *Summary, useColor bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "PLAN\t%s\n", s.Description)
	fmt.Fprintf(tw, "STATUS\t%s\n", paint(statusColor(s.Status), strings.ToUpper(s.Status), useColor))
	fmt.Fprintf(tw, "TOTALS\tplanned=%d complete=%d skipped=%d failed=%d\n", s.Totals.Planned, s.Totals.Complete, s.Totals.Skipped, s.Totals.Failed)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "STACK\tLEVEL\tACTION\tSTATUS\tREASON")
	for _, name := range s.Order {
		ns := s.Nodes[name]
		reason := strings.TrimSpace(ns.Reason)
		if ns.BlockedBy != "" {
			reason += ": " + ns.BlockedBy
		}
		reason = runewidth.Truncate(reason, maxReasonWidth, "...")
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", name, ns.Level, ns.Action, paint(statusColor(ns.Status), strings.ToUpper(ns.Status), useColor), reason)
	}
	return tw.Flush()
}

func statusColor(status string) *color.Color {
	switch status {
	case "complete", "succeeded":
		return color.New(color.FgGreen)
	case "failed":
		return color.New(color.FgRed, color.Bold)
	case "skipped", "canceled":
		return color.New(color.FgYellow)
	case "submitted":
		return color.New(color.FgCyan)
	default:
		return color.New(color.Reset)
	}
}

func paint(c *color.Color, s string, enabled bool) string {
	if !enabled {
		return s
	}
	c.EnableColor()
	return c.Sprint(s)
}
