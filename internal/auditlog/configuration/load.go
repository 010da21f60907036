package configuration

import (
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "AUDITLOG"

// Load reads the default config file from defaultPath and merges any override
// files on top, then unmarshals into an AuditLogConfiguration. Environment
// variables prefixed with AUDITLOG_ override file values.
func Load(defaultPath string, overrideConfigs []string) (AuditLogConfiguration, error) {
	var config AuditLogConfiguration
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		return config, errors.Wrapf(err, "reading config from %s", defaultPath)
	}
	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return config, errors.Wrapf(err, "merging config file %s", overrideConfig)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return config, errors.Wrap(err, "unmarshalling configuration")
	}
	return config, nil
}
