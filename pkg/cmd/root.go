package cmd

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stleox/seetrace/pkg/cmd/replay"
	"github.com/stleox/seetrace/pkg/cmd/serve"
	"github.com/stleox/seetrace/pkg/cmd/vocab"
	"github.com/stleox/seetrace/pkg/config"
)

var configFile string

func init() {
	// debug flag
	pflag.BoolVar(&config.Debug, "debug", false, "Enable debug mode")
	pflag.StringVar(&configFile, "config", "", "Config file (default is ./config.yaml or $HOME/.seetrace/config.yaml)")
}

// NewViper creates a new viper instance configured.
func NewViper() *viper.Viper {
	vp := viper.New()

	// read config from a file
	vp.SetConfigName("config") // name of config file (without extension)
	vp.SetConfigType("yaml")   // useful if the given config file does not have the extension in the name
	vp.AddConfigPath(".")      // look for a config in the working directory first
	vp.AddConfigPath("$HOME/.seetrace")

	// read config from environment variables
	vp.SetEnvPrefix("seetrace") // env var must start with SEETRACE_
	// replace - by _ for environment variable names
	// (eg: the env var for otlp-endpoint is SEETRACE_OTLP_ENDPOINT)
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv() // read in environment variables that match
	return vp
}

func New(vp *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:          "seetrace",
		Short:        "Replay ROS 2 trace logs as distributed traces",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.InitLogrus()

			if configFile != "" {
				vp.SetConfigFile(configFile)
			}
			if err := vp.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return errors.Wrap(err, "read config")
				}
			} else {
				logrus.WithField("file", vp.ConfigFileUsed()).Debug("SeeTrace loaded config")
			}

			if config.Debug {
				logrus.Info("enabled debug mode")
			} else {
				logrus.Debug("disabled debug mode")
			}
			return nil
		},
	}
	return root
}

func Execute() {
	// 全局初始化 VP 配置
	vp := NewViper()

	root := New(vp)
	root.AddCommand(replay.New(vp))
	root.AddCommand(serve.New(vp))
	root.AddCommand(vocab.New(vp))

	err := root.Execute()
	if err != nil {
		os.Exit(1)
	}
}
