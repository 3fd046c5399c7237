package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"kolibri/internal/models"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("35")).Bold(true)
)

func statusText(s models.DeedStatus) string {
	switch s {
	case models.StatusCompleted:
		return completedStyle.Render(s.Label())
	case models.StatusPendingBorrowerSignature, models.StatusPendingCooperativeSignature:
		return pendingStyle.Render(s.Label())
	default:
		return s.Label()
	}
}

// printer writes command results in the selected format. Table rows are
// only used for the table format; json and yaml print v as is.
type printer struct {
	w      io.Writer
	format string
}

func (p printer) validate() error {
	switch p.format {
	case outputTable, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", p.format)
}

func (p printer) print(v any, header []string, rows [][]string) error {
	switch p.format {
	case outputJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		// Go through JSON so the field names match the API.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	}
	return p.table(header, rows)
}

func (p printer) table(header []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.w, mutedStyle.Render("(nothing to show)"))
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	if len(header) > 0 {
		fmt.Fprintln(tw, headerStyle.Render(strings.Join(header, "\t")))
	}
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

// fields prints label/value pairs for a single record.
func (p printer) fields(v any, pairs [][2]string) error {
	if p.format != outputTable {
		return p.print(v, nil, nil)
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", headerStyle.Render(kv[0]+":"), kv[1])
	}
	return tw.Flush()
}

func (p printer) success(format string, args ...any) {
	if p.format == outputTable {
		fmt.Fprintln(p.w, successStyle.Render(fmt.Sprintf(format, args...)))
	}
}

func pageFooter(w io.Writer, pg models.Pagination, noun string) {
	if pg.TotalPages <= 1 {
		return
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("page %d of %d, %d %s", pg.CurrentPage, pg.TotalPages, pg.TotalCount, noun)))
}
