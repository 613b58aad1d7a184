package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"docconvert/services"

	"github.com/spf13/cobra"
)

func newConvertCmd(a *app) *cobra.Command {
	var inputPath, outputType string

	convertCmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a local document to another format",
		Long: `Convert uploads the input file, converts it to the requested format and
writes the results beside the input. Multi-page results are named
<name>_<pages>.<format>.`,
		Example: "  docconvert convert --input-file-path ./docs/report.docx --output-file-type pdf",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := services.ValidateArgs(inputPath, outputType)
			if err != nil {
				return err
			}

			svc, err := services.NewConversionService(a.cfg, a.logger)
			if err != nil {
				return err
			}

			output, err := svc.Convert(cmd.Context(), inputPath, format)
			if err != nil {
				return err
			}
			a.logger.Debug("Conversion finished",
				slog.String("process_id", output.ProcessID),
				slog.Int("files", len(output.Files)),
			)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Converted %s to %s\n", inputPath, outputType)
			fmt.Fprintf(out, "See %s directory for output\n", filepath.Dir(inputPath))
			return nil
		},
	}

	convertCmd.Flags().SetNormalizeFunc(camelCaseFlags)
	convertCmd.Flags().StringVarP(&inputPath, "input-file-path", "i", "", "document to convert")
	convertCmd.Flags().StringVarP(&outputType, "output-file-type", "o", "", "target format: jpeg, pdf, png, svg or tiff")

	return convertCmd
}
