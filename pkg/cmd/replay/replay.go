package replay

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stleox/seetrace/pkg/cmd/common"
	"github.com/stleox/seetrace/pkg/source"
	"github.com/stleox/seetrace/pkg/tracer"
)

func New(vp *viper.Viper) *cobra.Command {
	replay := &cobra.Command{
		Use:   "replay <file>...",
		Short: "Replay trace logs once and export the reconstructed spans",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return common.BindFlags(vp, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// init main context
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			// init replayManager
			rm, cleanup, err := common.InitReplayManager(ctx, vp)
			if err != nil {
				return err
			}
			defer cleanup()

			for _, path := range args {
				rep, err := rm.Replay(ctx, source.FromFile(path))
				if err != nil {
					return err
				}
				if rec := rm.Recorder(); rec != nil {
					printTree(cmd, rep, rec)
				}
			}
			return nil
		},
	}
	replay.Flags().AddFlagSet(common.ReplayFlags())
	return replay
}

func printTree(cmd *cobra.Command, rep *tracer.Report, rec *tracer.Recorder) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s (%s): %d spans\n", rep.Source, rep.ReplayID, rep.Spans)
	fmt.Fprint(out, rec.Tree())
	for _, a := range rep.Abandoned {
		fmt.Fprintf(out, "! abandoned %s at line %d, open: %v\n", a.Chain, a.Line, a.OpenFrames)
	}
	rec.Reset()
}
