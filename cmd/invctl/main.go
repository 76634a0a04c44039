package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"inventory-service/config"
	"inventory-service/internal/service"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

var (
	cfg     *config.Config
	timeout time.Duration
	from    string
	to      string

	// openStore is swapped in tests
	openStore = func(c *config.Config) (store.Store, error) {
		return store.Open(c.Database.Driver, c.Database.URL)
	}
)

var rootCmd = &cobra.Command{
	Use:   "invctl",
	Short: "Operator tooling for the inventory ledger",
	Long: `invctl reads the inventory document store directly.

It uses the same environment as the server (STORE_DRIVER, DATABASE_URL,
TIMEZONE, LOW_STOCK_THRESHOLD, BOOTSTRAP_ADMIN_EMAIL).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		return util.InitLogger(cfg.Server.Env)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		util.SyncLogger()
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay the movement log and compare it with stored quantities",
	RunE:  runVerify,
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Print the dashboard figures",
	RunE:  runDashboard,
}

var dailySalesCmd = &cobra.Command{
	Use:   "daily-sales",
	Short: "Print per-day sales totals between --from and --to (YYYY-MM-DD)",
	RunE:  runDailySales,
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap-admin EMAIL",
	Short: "Grant the Admin role to an email address, re-enabling it if disabled",
	Args:  cobra.ExactArgs(1),
	RunE:  runBootstrapAdmin,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")

	dailySalesCmd.Flags().StringVar(&from, "from", "", "First day (required)")
	dailySalesCmd.Flags().StringVar(&to, "to", "", "Last day (required)")
	_ = dailySalesCmd.MarkFlagRequired("from")
	_ = dailySalesCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(verifyCmd, dashboardCmd, dailySalesCmd, bootstrapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withStore opens the configured store for the duration of fn
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store) error) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, st)
}

func runVerify(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, st store.Store) error {
		mismatches, err := service.NewLedger(st, nil).VerifyLedger(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(cmd, mismatches); err != nil {
			return err
		}
		if len(mismatches) > 0 {
			return fmt.Errorf("%d product(s) disagree with the movement log", len(mismatches))
		}
		return nil
	})
}

func runDashboard(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, st store.Store) error {
		reports := service.NewReports(st, nil, cfg.Business.LowStockThreshold, cfg.Business.Location())
		d, err := reports.Dashboard(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, d)
	})
}

func runDailySales(cmd *cobra.Command, args []string) error {
	loc := cfg.Business.Location()
	start, err := time.ParseInLocation(dateLayout, from, loc)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	end, err := time.ParseInLocation(dateLayout, to, loc)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	return withStore(cmd, func(ctx context.Context, st store.Store) error {
		reports := service.NewReports(st, nil, cfg.Business.LowStockThreshold, loc)
		buckets, err := reports.DailySales(ctx, start, end)
		if err != nil {
			return err
		}
		return printJSON(cmd, buckets)
	})
}

func runBootstrapAdmin(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, st store.Store) error {
		user, err := service.NewUserAdmin(st).GrantAdmin(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is an Admin\n", user.Email)
		return nil
	})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
