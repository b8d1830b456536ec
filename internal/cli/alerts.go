package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aqimebaby/aqialert/pkg/model"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts and their current threshold state",
	RunE:  runAlertsList,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsListCmd.Flags().Bool("eligible", false, "Only alerts whose account has a confirmed email")
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	eligible, _ := cmd.Flags().GetBool("eligible")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if eligible {
		views, err := store.ListEligibleAlerts(cmd.Context())
		if err != nil {
			return fmt.Errorf("list eligible alerts: %w", err)
		}
		fmt.Fprintf(w, "ID\tLOCATION\tLAT\tLNG\tLEVEL\tSTATE\tEMAIL\n")
		for _, a := range views {
			fmt.Fprintf(w, "%d\t%s\t%.4f\t%.4f\t%d\t%s\t%s\n",
				a.ID, a.LocationName, a.Latitude, a.Longitude, a.AlertLevel, a.State, a.Email)
		}
		return nil
	}

	alerts, err := store.ListAlerts(cmd.Context())
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts. Use 'aqialertctl seed' to load some.")
		return nil
	}

	fmt.Fprintf(w, "ID\tACCOUNT\tLOCATION\tLAT\tLNG\tLEVEL\tSTATE\n")
	for _, a := range alerts {
		fmt.Fprintf(w, "%d\t%d\t%s\t%.4f\t%.4f\t%d\t%s\n",
			a.ID, a.AccountID, a.LocationName, a.Latitude, a.Longitude, a.AlertLevel,
			model.StateFromActive(a.AlertActiveLastCheck))
	}
	return nil
}
