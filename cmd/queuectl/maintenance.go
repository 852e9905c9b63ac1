package main

import (
	"fmt"

	"github.com/kiranshivaraju/callcoach/internal/queue"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/spf13/cobra"
)

func newRetryCmd(e *env) *cobra.Command {
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed jobs that still have retry budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxRetries < 1 {
				return fmt.Errorf("--max-retries must be at least 1")
			}
			return e.withStore(cmd.Context(), func(st store.Store) error {
				n, err := e.service(cmd.Context(), st).RetryFailedJobs(cmd.Context(), maxRetries)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d failed job(s) to pending\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxRetries, "max-retries", queue.DefaultMaxRetries, "only retry jobs with fewer attempts than this")
	return cmd
}

func newCleanupCmd(e *env) *cobra.Command {
	var daysOld int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed jobs older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if daysOld < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			return e.withStore(cmd.Context(), func(st store.Store) error {
				n, err := e.service(cmd.Context(), st).CleanupOldJobs(cmd.Context(), daysOld)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d completed job(s) older than %d day(s)\n", n, daysOld)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&daysOld, "days", queue.DefaultRetention, "retention window in days")
	return cmd
}

func newReapCmd(e *env) *cobra.Command {
	var maxAttempts int
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Reclaim jobs whose worker lease has expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxAttempts < 1 {
				return fmt.Errorf("--max-attempts must be at least 1")
			}
			return e.withStore(cmd.Context(), func(st store.Store) error {
				requeued, failed, err := e.service(cmd.Context(), st).ReapExpiredLeases(cmd.Context(), maxAttempts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d job(s), failed %d job(s)\n", requeued, failed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", queue.DefaultMaxAttempts, "fail expired jobs that reached this many attempts")
	return cmd
}
