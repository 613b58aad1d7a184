package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"docconvert/services"

	"github.com/spf13/cobra"
)

func newEnqueueCmd(a *app) *cobra.Command {
	var inputPath, outputType string

	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Upload a local document to S3 and queue it for conversion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := services.ValidateArgs(inputPath, outputType)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			redisClient, err := connectRedis(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			dbSvc, err := connectDatabase(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer dbSvc.Close()

			queue := services.NewQueueService(a.cfg, redisClient, dbSvc)
			fileName := filepath.Base(inputPath)
			job := queue.NewQueuedConversion("", fileName, format)
			job.InputS3Path = services.InputKey(job.ConversionID, fileName)

			file, err := os.Open(inputPath)
			if err != nil {
				return fmt.Errorf("failed to open input: %w", err)
			}
			defer file.Close()

			s3Svc := services.NewS3Service(a.cfg)
			if err := s3Svc.UploadReader(ctx, file, job.InputS3Path, services.ContentType(inputPath)); err != nil {
				return err
			}
			if err := queue.Submit(ctx, job); err != nil {
				if delErr := s3Svc.Delete(ctx, job.InputS3Path); delErr != nil {
					a.logger.Warn("Failed to remove orphaned upload",
						slog.String("key", job.InputS3Path),
						slog.String("error", delErr.Error()),
					)
				}
				return err
			}

			a.logger.Info("Conversion queued",
				slog.String("conversion_id", job.ConversionID),
				slog.String("input", job.InputS3Path),
			)
			fmt.Fprintln(cmd.OutOrStdout(), job.ConversionID)
			return nil
		},
	}

	enqueueCmd.Flags().SetNormalizeFunc(camelCaseFlags)
	enqueueCmd.Flags().StringVarP(&inputPath, "input-file-path", "i", "", "document to convert")
	enqueueCmd.Flags().StringVarP(&outputType, "output-file-type", "o", "", "target format: jpeg, pdf, png, svg or tiff")

	return enqueueCmd
}
