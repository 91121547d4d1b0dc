package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjacquet/commcell-go/commcell"
	"github.com/fjacquet/commcell-go/internal/logging"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newBackupCmd runs a backup of every subclient in one backupset, either
// once or on a cron schedule.
func newBackupCmd() *cobra.Command {
	var (
		level    string
		agent    string
		wait     bool
		cronSpec string
	)

	cmd := &cobra.Command{
		Use:   "backup <client> <backupset>",
		Short: "Back up all subclients of a backupset",
		Long: `Back up all subclients of a backupset. With --cron the backup is
repeated on the given schedule until the process is interrupted:

  commcellctl backup fileserver01 defaultBackupSet --cron "0 2 * * *"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			s, err := connect(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			backupAgent, err := parseAgent(agent)
			if err != nil {
				return err
			}

			run := func() error {
				return runBackupset(ctx, s.cc, args[0], args[1], backupAgent, commcell.BackupLevel(level), wait)
			}

			if cronSpec == "" {
				return run()
			}

			scheduler := cron.New()
			if _, err := scheduler.AddFunc(cronSpec, func() {
				if err := run(); err != nil {
					logging.LogError(fmt.Sprintf("Scheduled backup failed: %v", err))
				}
			}); err != nil {
				return fmt.Errorf("invalid cron expression %q: %w", cronSpec, err)
			}

			log.Infof("Running backups on schedule %q, press Ctrl+C to stop", cronSpec)
			scheduler.Start()

			select {
			case <-ctx.Done():
			case err := <-s.metricsErrChan:
				logging.LogError(fmt.Sprintf("Metrics server error: %v", err))
			}

			stopCtx := scheduler.Stop()
			<-stopCtx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&level, "level", "l", string(commcell.BackupIncremental), "Backup level: Full, Incremental, Differential or Synthetic_full")
	cmd.Flags().StringVarP(&agent, "agent", "a", "fs", "Agent of the backupset: fs (file system) or vsa (virtual server)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the started jobs to finish")
	cmd.Flags().StringVar(&cronSpec, "cron", "", "Repeat the backup on a cron schedule")

	return cmd
}

func parseAgent(name string) (commcell.Agent, error) {
	switch strings.ToLower(name) {
	case "fs", "filesystem", "file system":
		return commcell.AgentFileSystem, nil
	case "vsa", "virtualserver", "virtual server":
		return commcell.AgentVirtualServer, nil
	default:
		return 0, fmt.Errorf("unknown agent %q (use fs or vsa)", name)
	}
}

// runBackupset starts backups for every subclient of the backupset and
// reports per-subclient outcomes.
func runBackupset(ctx context.Context, cc *commcell.Commcell, clientName, backupsetName string, agent commcell.Agent, level commcell.BackupLevel, wait bool) error {
	client, err := cc.Clients().Get(ctx, clientName)
	if err != nil {
		return err
	}

	backupset, err := client.Backupsets(agent).Get(ctx, backupsetName)
	if err != nil {
		return err
	}

	results, err := backupset.Backup(ctx, commcell.BackupOptions{Level: level})
	if err != nil {
		return err
	}

	failures := 0
	for _, result := range results {
		switch {
		case result.Err != nil:
			failures++
			log.Errorf("Subclient %q: backup failed to start: %v", result.Subclient, result.Err)
		case result.Job == nil:
			log.Infof("Subclient %q: skipped", result.Subclient)
		default:
			log.Infof("Subclient %q: started job %d", result.Subclient, result.Job.ID())
		}
	}

	if wait {
		for _, result := range results {
			if result.Job == nil || result.Err != nil {
				continue
			}
			ok, err := result.Job.WaitForCompletion(ctx, commcell.WaitOptions{})
			if err != nil {
				return err
			}
			if !ok {
				failures++
				log.Errorf("Job %d finished with status %q", result.Job.ID(), result.Job.Status())
			} else {
				log.Infof("Job %d completed", result.Job.ID())
			}
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d subclient backups failed", failures, len(results))
	}
	return nil
}
