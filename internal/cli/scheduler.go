package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	schedulerStartCmd.Flags().BoolVar(&schedulerTriggerImmediate, "trigger-immediate", false, "also enqueue one firing right away")
	schedulerCmd.AddCommand(schedulerStartCmd, schedulerStopCmd, schedulerTriggerCmd, schedulerPauseAllCmd, schedulerResumeAllCmd, schedulerPsCmd)
	rootCmd.AddCommand(schedulerCmd)
}

var schedulerTriggerImmediate bool

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Control the Region Scheduler",
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start REGION_ID CRON_EXPRESSION",
	Short: "Register a region's cron schedule and claim firing ownership",
	Args:  cobra.ExactArgs(2),
	RunE:  runSchedulerStart,
}

func runSchedulerStart(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Scheduler.Start(cmd.Context(), args[0], args[1], schedulerTriggerImmediate)
}

var schedulerStopCmd = &cobra.Command{
	Use:   "stop REGION_ID",
	Short: "Release ownership and stop firing a region's schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulerStop,
}

func runSchedulerStop(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Scheduler.Stop(cmd.Context(), args[0])
}

var schedulerTriggerCmd = &cobra.Command{
	Use:   "trigger REGION_ID",
	Short: "Enqueue an immediate analysis run regardless of schedule or ownership",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulerTrigger,
}

func runSchedulerTrigger(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Scheduler.TriggerNow(cmd.Context(), args[0])
}

var schedulerPauseAllCmd = &cobra.Command{
	Use:   "pause-all",
	Short: "Pause every owned schedule without releasing ownership",
	RunE:  runSchedulerPauseAll,
}

func runSchedulerPauseAll(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	app.Scheduler.PauseAll()
	return nil
}

var schedulerResumeAllCmd = &cobra.Command{
	Use:   "resume-all",
	Short: "Resume every paused schedule; missed firings are not backfilled",
	RunE:  runSchedulerResumeAll,
}

func runSchedulerResumeAll(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	app.Scheduler.ResumeAll()
	return nil
}

var schedulerPsCmd = &cobra.Command{
	Use:   "ps",
	Short: "List active schedules and queue statistics",
	RunE:  runSchedulerPs,
}

func runSchedulerPs(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	jobs := app.Scheduler.ActiveJobs()
	stats := app.Scheduler.QueueStats()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REGION_ID\tCRON\tOWNER\tRUNNING\tNEXT_FIRE_AT")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", j.RegionID, j.CronExpression, j.OwnerReplicaID, j.IsRunning, j.NextFireAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	fmt.Printf("\nqueue: waiting=%d active=%d completed=%d failed=%d delayed=%d\n",
		stats.Waiting, stats.Active, stats.Completed, stats.Failed, stats.Delayed)
	return nil
}
