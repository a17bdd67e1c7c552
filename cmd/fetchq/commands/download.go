package commands

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/fetchq"
	"github.com/adamwoolhether/fetchq/request"
	"github.com/adamwoolhether/fetchq/scheduler"
)

var (
	downloadDir    string
	downloadName   string
	downloadSHA256 string
	downloadSkip   bool
)

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Stream a URL to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadDir, "dir", "d", ".", "destination directory")
	downloadCmd.Flags().StringVarP(&downloadName, "output", "o", "", "destination file name (default: last URL path segment)")
	downloadCmd.Flags().StringVar(&downloadSHA256, "sha256", "", "expected hex SHA-256 of the file")
	downloadCmd.Flags().BoolVar(&downloadSkip, "skip-existing", false, "do nothing when the destination already exists")
}

func runDownload(cmd *cobra.Command, args []string) error {
	p, err := parsePriority(priority)
	if err != nil {
		return err
	}

	name := downloadName
	if name == "" {
		name = path.Base(args[0])
	}

	opts := []request.Option{request.WithPriority(p)}
	if downloadSHA256 != "" {
		opts = append(opts, request.WithChecksum(sha256.New(), downloadSHA256))
	}
	if downloadSkip {
		opts = append(opts, request.WithSkipExisting())
	}

	d, err := request.NewDownload(args[0], downloadDir, name, opts...)
	if err != nil {
		return err
	}

	return withEngine(cmd, func(ctx context.Context, e *fetchq.Engine) error {
		h, err := e.Submit(d, nil)
		if err != nil {
			return err
		}

		select {
		case <-h.Done():
		case <-ctx.Done():
			h.Cancel(true)
			<-h.Done()
		}

		return report(cmd, h)
	})
}

func report(cmd *cobra.Command, h *scheduler.Handle) error {
	res := h.Result()
	if res.Err != nil {
		return res.Err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%v (%d bytes in %s)\n", res.Value, res.Metrics.BytesReceived, res.Metrics.Elapsed)
	return nil
}
