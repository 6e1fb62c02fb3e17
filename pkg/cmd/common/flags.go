package common

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/tracer"
)

// ReplayFlags are shared by the commands that replay logs.
func ReplayFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	flags.String("preset", config.DefaultPreset, "Built-in vocabulary: publish, take or pingpong (ignored when the config has a vocabulary)")
	flags.String("exporter", config.DefaultExporter, "Where spans go: stdout, grpc, tree or none")
	flags.String("otlp-endpoint", config.DefaultOTLPEndpoint, "OTLP gRPC collector, with --exporter=grpc")
	flags.Int64("epoch", 0, "Initial clock in microseconds since the Unix epoch (default now)")
	flags.String("olap-dsn", "", "MySQL protocol DSN to persist spans, empty to disable")
	return flags
}

// BindFlags binds flags into viper so that config file and env vars fill the unset ones.
func BindFlags(vp *viper.Viper, flags *pflag.FlagSet) error {
	return vp.BindPFlags(flags)
}

// InitReplayManager creates the manager and its exporter. The returned func
// flushes and shuts everything down.
func InitReplayManager(ctx context.Context, vp *viper.Viper) (*tracer.ReplayManager, func(), error) {
	rm := tracer.NewReplayManager(vp)

	shutdown, err := rm.InitExporter(ctx, vp.GetString("exporter"))
	if err != nil {
		return nil, nil, err
	}
	logrus.WithField("exporter", vp.GetString("exporter")).Debug("SeeTrace initialized exporter")

	cleanup := func() {
		rm.Flush()
		if err := shutdown(rm.ShutdownCtx); err != nil {
			logrus.Error(err)
		}
	}
	return rm, cleanup, nil
}
