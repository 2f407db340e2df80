package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/netraven-io/netraven/pkg/cli"
	"github.com/netraven-io/netraven/pkg/logpipe"
	"github.com/netraven-io/netraven/pkg/queue"
	"github.com/netraven-io/netraven/pkg/registry"
	"github.com/netraven-io/netraven/pkg/scheduler"
	"github.com/netraven-io/netraven/pkg/store"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <job-id>",
	Short: "Enqueue a job for immediate execution",
	Long: `Puts the job on the work queue right away, bypassing its schedule.
The job must be enabled; a running worker picks it up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}
		ctx := context.Background()

		st, err := store.Open()
		if err != nil {
			return err
		}
		defer st.Close()

		q := queue.New()
		if err := q.Connect(ctx); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer q.Close()

		logs, err := logpipe.New(st)
		if err != nil {
			return err
		}
		defer logs.Close()

		task, err := scheduler.New(st, q, logs).TriggerJob(ctx, jobID)
		if err != nil {
			return err
		}
		fmt.Println(cli.Green(fmt.Sprintf("job %d queued (task %s)", jobID, task.Handle)))
		return nil
	},
}

var jobTypesCmd = &cobra.Command{
	Use:   "job-types",
	Short: "List the registered job types",
	Run: func(cmd *cobra.Command, args []string) {
		table := cli.NewTable("NAME", "LABEL", "DESCRIPTION")
		for _, info := range registry.Default().List() {
			table.Row(info.Name, info.Label, info.Description)
		}
		table.Flush()
	},
}
