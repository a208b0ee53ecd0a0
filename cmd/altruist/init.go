package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"altruist-go/services/config"
)

func initFlags(cmd *cobra.Command) {
	cmd.Flags().String("device", config.DefaultDevice, "built-in preset to start from")
	cmd.Flags().Bool("print", false, "print config to stdout")
	cmd.Flags().BoolP("yes", "y", false, "overwrite an existing file")
	cmd.Flags().StringP("output", "o", config.DefaultConfigPath, "output path")
}

var initCmd = &cobra.Command{
	Use:        "init",
	SuggestFor: []string{"ini", "in"},
	Short:      "write a configuration template",
	Long: `init writes the configuration of a built-in device preset.
With --print the YAML goes to stdout; otherwise it is saved to --output
($HOME/.config/altruist/config.yaml by default). An existing file is only
replaced with --yes.`,
	Example: `  altruist init --print
  altruist init --device pico -o ./config.yaml -y`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	device, _ := cmd.Flags().GetString("device")
	printFlag, _ := cmd.Flags().GetBool("print")
	output, _ := cmd.Flags().GetString("output")
	overwrite, _ := cmd.Flags().GetBool("yes")

	cfg, err := config.Preset(device)
	if err != nil {
		return err
	}
	if printFlag {
		b, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(b))
		return nil
	}
	if err := config.Save(cfg, output, overwrite); err != nil {
		return err
	}
	log.Infoln("configuration written to", output)
	return nil
}
