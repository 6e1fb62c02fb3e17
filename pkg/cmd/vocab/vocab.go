package vocab

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stleox/seetrace/pkg/config"
	"github.com/stleox/seetrace/pkg/tracer"
)

func New(vp *viper.Viper) *cobra.Command {
	vocab := &cobra.Command{
		Use:   "vocab",
		Short: "Print the compiled marker vocabulary and its transition table",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return vp.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.LoadVocabulary(vp)
			if err != nil {
				return err
			}
			m, err := tracer.Compile(v)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), m.String())
			return nil
		},
	}
	vocab.Flags().String("preset", config.DefaultPreset, "Built-in vocabulary: publish, take or pingpong")
	return vocab
}
