package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"altruist-go/platform"
	"altruist-go/services/config"
	"altruist-go/services/metrics"
	"altruist-go/services/node"
)

func commonFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "configuration file path")
	cmd.Flags().String("device", config.DefaultDevice, "built-in preset the configuration starts from")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func serveFlags(cmd *cobra.Command) {
	commonFlags(cmd)
	cmd.Flags().Bool("json", false, "log as JSON")
	cmd.Flags().String("metrics-listen", "", "address for the /metrics endpoint, empty to disable")
}

var serveCmd = &cobra.Command{
	Use:        "serve",
	SuggestFor: []string{"ru", "ser"},
	Short:      "run the sensor node",
	Long: `serve runs the sensor node using the configuration resolved in this order:
1. path given by --config
2. path in the ALTRUIST_CONFIG environment variable
3. config.yaml in $HOME/.config/altruist, /etc/altruist or the current directory
Values from the file are overridden by ALTRUIST_* environment variables and
then by command line flags.`,
	Example: `  altruist serve --config=/etc/altruist/config.yaml`,
	RunE:    runServe,
}

// loadConfig resolves configuration for cmd and applies the log settings.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	device, _ := cmd.Flags().GetString("device")
	file, _ := cmd.Flags().GetString("config")
	flags := map[string]*pflag.Flag{
		"log.level":      cmd.Flags().Lookup("log-level"),
		"log.json":       cmd.Flags().Lookup("json"),
		"metrics.listen": cmd.Flags().Lookup("metrics-listen"),
	}
	cfg, _, err := config.Load(config.LoadOptions{Device: device, File: file, Flags: flags, Search: true})
	if err != nil {
		return config.Config{}, err
	}
	configureLogging(cfg.Log)
	return cfg, nil
}

func configureLogging(c config.Log) {
	lvl, err := log.ParseLevel(c.Level)
	if err != nil {
		log.WithError(err).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	if c.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	res, err := platform.NewHost()
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	m := metrics.New(prometheus.DefaultRegisterer)
	prometheus.MustRegister(collectors.NewBuildInfoCollector())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.WithField("addr", cfg.Metrics.Listen).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("metrics listener failed")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	list, err := node.BuildSensors(cfg, res, nil)
	if err != nil {
		log.WithError(err).Warn("some sensors are unavailable")
	}
	if len(list) == 0 {
		log.Warn("no sensors configured; running status only")
	}
	return node.New(cfg, list, node.Options{Log: log.StandardLogger(), Observer: m}).Run(ctx)
}
