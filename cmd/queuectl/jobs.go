package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/kiranshivaraju/callcoach/pkg/models"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newJobsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect analysis jobs",
	}
	cmd.AddCommand(newJobsListCmd(e))
	return cmd
}

func newJobsListCmd(e *env) *cobra.Command {
	var (
		status string
		orgID  string
		limit  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, highest priority first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := store.JobFilter{Status: status, Limit: limit}
			if orgID != "" {
				id, err := uuid.Parse(orgID)
				if err != nil {
					return fmt.Errorf("--org must be a UUID: %w", err)
				}
				filter.OrgID = &id
			}
			if output != "table" && output != "json" {
				return fmt.Errorf("--output must be table or json, got %q", output)
			}

			return e.withStore(cmd.Context(), func(st store.Store) error {
				jobs, err := st.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if output == "json" {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(jobs)
				}
				return renderJobs(cmd, jobs)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: pending, processing, completed, failed")
	cmd.Flags().StringVar(&orgID, "org", "", "filter by organization ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs to list")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")
	return cmd
}

func renderJobs(cmd *cobra.Command, jobs []*models.AnalysisJob) error {
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Job ID", "Session", "Status", "Priority", "Attempts", "Queued", "Locked By", "Last Error")
	for _, j := range jobs {
		if err := table.Append(
			j.ID.String(),
			j.SessionID.String(),
			j.Status,
			strconv.Itoa(j.Priority),
			strconv.Itoa(j.Attempts),
			j.QueuedAt.UTC().Format(time.RFC3339),
			deref(j.LockedBy),
			truncate(deref(j.LastError), 40),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
