package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "altruist",
	Short: "environmental sensor node",
	Long:  "altruist reads BME280, SDS011 and ME2-CO sensors and reports normalised readings.",
}

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	serveFlags(serveCmd)
	initFlags(initCmd)
	probeFlags(probeCmd)
	rootCmd.AddCommand(serveCmd, initCmd, probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
