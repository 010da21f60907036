package main

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/auditlogproject/auditlog/internal/auditlog"
	"github.com/auditlogproject/auditlog/internal/auditlog/configuration"
)

const CustomConfigLocation = "config"

func init() {
	pflag.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)
	pflag.Parse()
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.WithError(err).Fatal("Failed to bind command line arguments")
	}
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	config, err := configuration.Load("./config/auditlog", userSpecifiedConfigs)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := auditlog.Run(ctx, config); err != nil {
		log.WithError(err).Fatal("Audit log service terminated")
	}
	log.Info("Audit log service stopped")
}
