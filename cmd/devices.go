package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence-hub/internal/config"
	"github.com/kozaktomas/presence-hub/internal/database/postgres"
	"github.com/kozaktomas/presence-hub/internal/registry"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage the PostgreSQL device registry",
	Long: `Manage scanner devices stored in the PostgreSQL registry (DATABASE_URL).

Running servers cache registry answers for REGISTRY_CACHE_TTL, so changes
take effect within that window.`,
}

var devicesImportCmd = &cobra.Command{
	Use:   "import <devices.yaml>",
	Short: "Upsert devices from a YAML device list",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevicesImport,
}

var devicesRevokeCmd = &cobra.Command{
	Use:   "revoke <device-id>",
	Short: "Revoke a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevicesRevoke,
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices of a location",
	RunE:  runDevicesList,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(devicesImportCmd, devicesRevokeCmd, devicesListCmd)

	devicesListCmd.Flags().String("location", "", "Location ID (required)")
	devicesListCmd.Flags().Bool("json", false, "Output as JSON")
	_ = devicesListCmd.MarkFlagRequired("location")
}

func openDeviceRepository(ctx context.Context) (*postgres.DeviceRepository, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewDeviceRepository(pool), func() { _ = pool.Close() }, nil
}

func runDevicesImport(cmd *cobra.Command, args []string) error {
	static, err := registry.LoadStatic(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	repo, closeRepo, err := openDeviceRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	devices := static.Devices()
	for _, d := range devices {
		if err := repo.Save(ctx, d); err != nil {
			return fmt.Errorf("saving device %s: %w", d.ID, err)
		}
	}
	fmt.Printf("Imported %d devices\n", len(devices))
	return nil
}

func runDevicesRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, closeRepo, err := openDeviceRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	if err := repo.Revoke(ctx, args[0]); err != nil {
		return fmt.Errorf("revoking device %s: %w", args[0], err)
	}
	fmt.Printf("Device %s revoked\n", args[0])
	return nil
}

func runDevicesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, closeRepo, err := openDeviceRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	devices, err := repo.ListByLocation(ctx, mustGetString(cmd, "location"))
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(devices)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAREA\tTYPE\tAPPROVED\tREVOKED")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n", d.ID, d.AreaID, d.DeviceType, d.Approved, d.Revoked)
	}
	return tw.Flush()
}
