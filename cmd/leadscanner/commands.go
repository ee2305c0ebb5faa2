package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/export"
	"LeadScanner/internal/usecase"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one live scan pass now, even if scanning is paused",
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, _, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		summary, err := application.Panel().TriggerScan(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary.Digest())
		return nil
	},
}

var historicalCmd = &cobra.Command{
	Use:   "historical",
	Short: "Scrape group history and archive matching posts as cold leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, _, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		panel := application.Panel()
		if err := panel.StartHistorical(cmd.Context()); err != nil {
			return err
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			p := panel.HistoricalProgress()
			if !p.Running {
				fmt.Fprintf(cmd.OutOrStdout(), "scraped %d posts, archived %d\n", p.PostsScraped, p.Archived)
				return p.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group %s: %d posts scraped\n", p.CurrentGroup, p.PostsScraped)
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-ticker.C:
			}
		}
	},
}

var statsDay string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show lead counts for a day and overall",
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, cfg, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		loc := cfg.Scheduler.Location()
		day := time.Now().In(loc)
		if statsDay != "" {
			day, err = time.ParseInLocation(time.DateOnly, statsDay, loc)
			if err != nil {
				return fmt.Errorf("--day: %w", err)
			}
		}

		panel := application.Panel()
		stats, err := panel.LeadStats(cmd.Context(), day)
		if err != nil {
			return err
		}
		totals, err := panel.Totals(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "📊 Leads on %s\n", day.Format(time.DateOnly))
		fmt.Fprintf(out, "  total:   %d\n  replied: %d\n  pending: %d\n", stats.Count, stats.RepliedCount, stats.Pending())
		fmt.Fprintf(out, "📈 All time\n  total:   %d\n  replied: %d\n  today:   %d\n", totals.Total, totals.Replied, totals.Today)
		return nil
	},
}

var leadsLimit uint64

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List today's leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, _, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		items, err := application.Panel().TodayLeads(cmd.Context(), leadsLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "No leads today.")
			return nil
		}
		for _, item := range items {
			fmt.Fprintf(out, "%s [%s] %s: %s\n", item.CreatedAt.Format(time.TimeOnly), item.Quality, item.SourceRef, truncate(item.Text, 80))
		}
		return nil
	},
}

var (
	exportFormat string
	exportOut    string
	exportSince  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the lead ledger as CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		application, cfg, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		var filter domain.LeadFilter
		if exportSince != "" {
			since, err := time.ParseInLocation(time.DateOnly, exportSince, cfg.Scheduler.Location())
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			filter.Since = since
		}

		table, err := application.Panel().ExportLeads(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if exportOut == "" || exportOut == "-" {
			return export.Write(cmd.OutOrStdout(), table, format)
		}
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		if err := export.Write(f, table, format); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "exported %d leads to %s\n", len(table.Rows), exportOut)
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage direct-message conversations",
}

var closeConversationCmd = &cobra.Command{
	Use:   "close <platform> <thread>",
	Short: "Mark a conversation closed, usually after a sale",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, _, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		if err := application.Panel().CloseConversation(cmd.Context(), domain.Platform(args[0]), args[1]); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), usecase.RenderError(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ closed %s %s\n", args[0], args[1])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scanner, generation and bridge status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, _, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		st, err := application.Panel().Status(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Scanning:   %s\n", onOff(st.ScanActive))
		fmt.Fprintf(out, "Generation: %s\n", onOff(st.GenerationOnline))
		fmt.Fprintf(out, "Historical: %s (%d posts)\n", onOff(st.Historical.Running), st.Historical.PostsScraped)
		fmt.Fprintf(out, "Leads:      %d total, %d replied, %d today\n", st.Totals.Total, st.Totals.Replied, st.Totals.Today)
		switch {
		case st.Bridge != nil:
			fmt.Fprintf(out, "WhatsApp:   %d sessions (%s), %d queued\n", len(st.Bridge.Sessions), strings.Join(st.Bridge.Sessions, ", "), st.Bridge.QueueLength)
		case st.BridgeErr != nil:
			fmt.Fprintf(out, "WhatsApp:   unreachable (%v)\n", st.BridgeErr)
		}
		return nil
	},
}

var auditLimit uint64

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit log entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, _, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		entries, err := application.Panel().AuditTrail(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-5s %s/%s %v\n", e.CreatedAt.Format(time.DateTime), e.Level, e.Source, e.Action, e.Payload)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsDay, "day", "", "day to report (YYYY-MM-DD), defaults to today")
	leadsCmd.Flags().Uint64Var(&leadsLimit, "limit", 10, "maximum leads to list")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "csv or xlsx")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file, stdout when empty")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "only leads from this day on (YYYY-MM-DD)")
	auditCmd.Flags().Uint64Var(&auditLimit, "limit", 20, "entries to show, 0 for all")
	conversationsCmd.AddCommand(closeConversationCmd)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
