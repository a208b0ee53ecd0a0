package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"altruist-go/drivers/bme280"
	"altruist-go/platform"
	"altruist-go/services/config"
	"altruist-go/services/node"
	"altruist-go/services/sensors"
)

func probeFlags(cmd *cobra.Command) {
	commonFlags(cmd)
	cmd.Flags().Bool("read", false, "initialise each sensor and take one reading")
	cmd.Flags().Duration("timeout", 30*time.Second, "per-sensor time limit for --read")
}

var probeCmd = &cobra.Command{
	Use:        "probe",
	SuggestFor: []string{"pro", "pr", "prob"},
	Short:      "check the configured sensors",
	Long: `probe looks for the BME280 on the configured I2C bus and opens the serial
ports of the SDS011 and ME2-CO. With --read every enabled sensor is
initialised and read once, skipping warm-up.`,
	Example: `  altruist probe --device linux --read`,
	RunE:    runProbe,
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	res, err := platform.NewHost()
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if c := cfg.Sensors.BME280; c.Enabled {
		probeBME280(ctx, cmd, res, c)
	}

	list, err := node.BuildSensors(cfg, res, nil)
	if err != nil {
		fmt.Fprintln(out, "unavailable:", err)
	}
	for _, s := range list {
		fmt.Fprintf(out, "%-8s %s %s ready\n", s.Info().Name, s.Info().Manufacturer, s.Info().Version)
	}

	if read, _ := cmd.Flags().GetBool("read"); read {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		for _, s := range list {
			readOnce(ctx, cmd, s, timeout)
		}
	}
	return nil
}

func probeBME280(ctx context.Context, cmd *cobra.Command, res platform.Resources, c config.I2CSensor) {
	out := cmd.OutOrStdout()
	b, err := res.I2C(c.Bus)
	if err != nil {
		fmt.Fprintf(out, "BME280   bus %s: %v\n", c.Bus, err)
		return
	}
	addr, err := bme280.New(b, bme280.Config{Addresses: c.Addresses}).Probe(ctx)
	if err != nil {
		fmt.Fprintf(out, "BME280   bus %s: %v\n", c.Bus, err)
		return
	}
	fmt.Fprintf(out, "BME280   bus %s: found at %#02x\n", c.Bus, addr)
}

func readOnce(ctx context.Context, cmd *cobra.Command, s sensors.Sensor, timeout time.Duration) {
	out := cmd.OutOrStdout()
	name := s.Info().Name
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.Init(ctx); err != nil {
		fmt.Fprintf(out, "%-8s init: %v\n", name, err)
		return
	}
	r, err := s.Read(ctx)
	if err != nil {
		fmt.Fprintf(out, "%-8s read: %v\n", name, err)
		return
	}
	fmt.Fprintf(out, "%-8s %s %v\n", name, r.Quality, sensors.Fields(r.Data))
}
