package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	alertListCmd.Flags().IntVar(&alertListLimit, "limit", 20, "maximum alerts to show")
	alertCmd.AddCommand(alertListCmd, alertAckCmd)
	rootCmd.AddCommand(alertCmd)
}

var alertListLimit int

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Query and acknowledge deforestation alerts",
}

var alertListCmd = &cobra.Command{
	Use:   "list REGION_ID",
	Short: "List alerts for a region, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertList,
}

func runAlertList(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	alerts, err := app.Store.ListAlertsByRegion(cmd.Context(), args[0], alertListLimit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Println("No alerts for this region.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALERT_ID\tLEVEL\tDEFORESTATION_PCT\tCONFIDENCE\tACKNOWLEDGED\tTIMESTAMP")
	for _, a := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%.2f%%\t%.2f\t%v\t%s\n",
			a.AlertID, a.Level, a.DeforestationPercentage, a.ConfidenceScore, a.Acknowledged, a.Timestamp.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

var alertAckCmd = &cobra.Command{
	Use:   "ack ALERT_ID",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertAck,
}

func runAlertAck(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Store.AcknowledgeAlert(cmd.Context(), args[0])
}
