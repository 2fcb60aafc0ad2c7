package dbrest

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes the environment variables read by LoadConnectionParams.
const DefaultEnvPrefix = "DBREST"

// LoadConnectionParams reads connection parameters from defaults, an optional
// config file (any format viper understands) and DBREST_* environment
// variables, in increasing order of precedence.
func LoadConnectionParams(configFile string) (ConnectionParams, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	_ = v.BindEnv("host")
	v.SetDefault("host", "localhost")

	_ = v.BindEnv("port")
	v.SetDefault("port", DefaultPort)

	_ = v.BindEnv("user")
	v.SetDefault("user", "")

	_ = v.BindEnv("password")
	v.SetDefault("password", "")

	_ = v.BindEnv("ssl")
	v.SetDefault("ssl", false)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return ConnectionParams{}, fmt.Errorf("dbrest: read config %s: %w", configFile, err)
		}
	}

	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)

	var params ConnectionParams
	if err := v.Unmarshal(&params, viper.DecodeHook(decodeHooks)); err != nil {
		return ConnectionParams{}, fmt.Errorf("dbrest: failed to load configuration: %w", err)
	}

	return params, nil
}
