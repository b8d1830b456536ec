package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aqimebaby/aqialert/pkg/model"
	"github.com/aqimebaby/aqialert/pkg/storage"
)

// fixtures is the seed file layout:
//
//	accounts:
//	  - email: user@example.com
//	    confirmed_email: true
//	    alerts:
//	      - location_name: Oakland
//	        latitude: 37.80
//	        longitude: -122.27
//	        alert_level: 100
type fixtures struct {
	Accounts []accountFixture `yaml:"accounts"`
}

type accountFixture struct {
	model.Account `yaml:",inline"`
	Alerts        []model.Alert `yaml:"alerts"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load accounts and alerts from a YAML fixture file",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringP("file", "f", "", "Fixture file")
	_ = seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}

	fx, err := parseFixtures(data)
	if err != nil {
		return err
	}

	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	accounts, alerts, err := seed(cmd.Context(), store, fx)
	if err != nil {
		return err
	}

	fmt.Printf("Seeded %d accounts and %d alerts\n", accounts, alerts)
	return nil
}

// parseFixtures decodes and validates a fixture file.
func parseFixtures(data []byte) (*fixtures, error) {
	var fx fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	var errs []error
	for i, acct := range fx.Accounts {
		if acct.Email == "" {
			errs = append(errs, fmt.Errorf("account %d: email is required", i))
		}
		for j := range acct.Alerts {
			if err := acct.Alerts[j].Validate(); err != nil {
				errs = append(errs, fmt.Errorf("account %d alert %d: %w", i, j, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &fx, nil
}

// seed inserts every account and its alerts.
func seed(ctx context.Context, store storage.Storage, fx *fixtures) (accounts, alerts int, err error) {
	for _, af := range fx.Accounts {
		acct := af.Account
		if err := store.CreateAccount(ctx, &acct); err != nil {
			return accounts, alerts, fmt.Errorf("create account %s: %w", acct.Email, err)
		}
		accounts++

		for _, alert := range af.Alerts {
			alert.AccountID = acct.ID
			if err := store.CreateAlert(ctx, &alert); err != nil {
				return accounts, alerts, fmt.Errorf("create alert %q: %w", alert.LocationName, err)
			}
			alerts++
		}
	}
	return accounts, alerts, nil
}
