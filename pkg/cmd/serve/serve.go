package serve

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	pkgbgtask "github.com/stleox/seetrace/pkg/bgtask"
	"github.com/stleox/seetrace/pkg/cmd/common"
	"github.com/stleox/seetrace/pkg/config"
)

func New(vp *viper.Viper) *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Watch a spool directory and replay new logs periodically",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return common.BindFlags(vp, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// init main context of `serve`
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			// init replayManager
			rm, cleanup, err := common.InitReplayManager(ctx, vp)
			if err != nil {
				return err
			}
			defer cleanup()

			// init bgTaskManager
			bgTaskManager := pkgbgtask.NewBgTaskManager(ctx, vp, rm)
			bgTaskManager.StartAll()
			defer bgTaskManager.StopAll()

			<-ctx.Done()
			logrus.Infof("SeeTrace stops serving, %d reports kept", len(rm.Reports()))
			return nil
		},
	}
	serve.Flags().AddFlagSet(common.ReplayFlags())
	serve.Flags().String("spool-dir", "", "Directory to watch for finished logs")
	serve.Flags().String("spool-glob", config.SpoolGlob, "Pattern of the logs in the spool directory")
	serve.Flags().Duration("spool-interval", config.SpoolInterval, "How often the spool directory is scanned")
	return serve
}
