package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute pipeline steps",
	Long: `Execute the pipeline steps given with -p in order. Each step acts on the
recording produced by the previous one; a leading play step plays the
newest recording.

  tapedeck run -p rp    record a sample, name it, then play it back
  tapedeck run -p rrr   record three samples in a row`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rp)")
		}

		steps := []rune(strings.ToLower(pipeline))
		filename := ""

		for i, step := range steps {
			fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, len(steps), step)

			var err error
			filename, err = runStep(step, filename)
			if err != nil {
				return err
			}
		}

		return nil
	},
}
