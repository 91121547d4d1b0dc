package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fjacquet/commcell-go/commcell"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newJobCmd groups the job inspection and control commands.
func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and control jobs",
	}
	cmd.AddCommand(newJobStatusCmd())
	cmd.AddCommand(newJobWaitCmd())
	cmd.AddCommand(newJobListCmd())
	return cmd
}

func parseJobID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job ID %q", arg)
	}
	return id, nil
}

func newJobStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			s, err := connect(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			job, err := s.cc.Jobs().Get(ctx, jobID)
			if err != nil {
				return err
			}

			fmt.Printf("Job:      %d\n", job.ID())
			fmt.Printf("Status:   %s\n", job.Status())
			fmt.Printf("Phase:    %s\n", job.Phase())
			fmt.Printf("Progress: %d%%\n", job.PercentComplete())
			if reason := job.DelayReason(); reason != "" {
				fmt.Printf("Delayed:  %s\n", reason)
			}
			return nil
		},
	}
}

func newJobWaitCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Wait for a job to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			s, err := connect(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			job, err := s.cc.Jobs().Get(ctx, jobID)
			if err != nil {
				return err
			}

			waitCtx := ctx
			if timeout > 0 {
				var waitCancel context.CancelFunc
				waitCtx, waitCancel = context.WithTimeout(ctx, timeout)
				defer waitCancel()
			}

			log.Infof("Waiting for job %d (status %q)...", job.ID(), job.Status())
			ok, err := job.WaitForCompletion(waitCtx, commcell.WaitOptions{})
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("job %d finished with status %q", job.ID(), job.Status())
			}

			log.Infof("Job %d completed", job.ID())
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Give up after this duration (e.g. 2h); 0 waits forever")
	return cmd
}

func newJobListCmd() *cobra.Command {
	var (
		clientName string
		lookup     time.Duration
		limit      int
		finished   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active or recently finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			s, err := connect(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			var jobs map[int]commcell.JobSummary
			if finished {
				jobs, err = s.cc.Jobs().FinishedJobs(ctx, clientName, lookup, limit)
			} else {
				jobs, err = s.cc.Jobs().ActiveJobs(ctx, clientName, limit)
			}
			if err != nil {
				return err
			}

			for id, job := range jobs {
				fmt.Printf("%-8d %-20s %-12s %5.1f%%  %s\n",
					id, job.Status, job.JobType, job.PercentComplete, job.ClientName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&clientName, "client", "", "Only show jobs of this client")
	cmd.Flags().DurationVar(&lookup, "lookup", 5*time.Hour, "How far back to look for finished jobs")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to list")
	cmd.Flags().BoolVar(&finished, "finished", false, "List finished jobs instead of active ones")
	return cmd
}
