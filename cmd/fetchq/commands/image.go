package commands

import (
	"context"
	"fmt"
	"image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/fetchq"
	"github.com/adamwoolhether/fetchq/asset"
	"github.com/adamwoolhether/fetchq/request"
)

var (
	imageWidth  int
	imageHeight int
	imageFill   bool
	imageOut    string
)

var imageCmd = &cobra.Command{
	Use:   "image <url>",
	Short: "Load an image through the asset cache and write it as PNG",
	Args:  cobra.ExactArgs(1),
	RunE:  runImage,
}

func init() {
	imageCmd.Flags().IntVar(&imageWidth, "width", 0, "maximum width (0 for unbounded)")
	imageCmd.Flags().IntVar(&imageHeight, "height", 0, "maximum height (0 for unbounded)")
	imageCmd.Flags().BoolVar(&imageFill, "fill", false, "cover the bounds instead of fitting inside them")
	imageCmd.Flags().StringVarP(&imageOut, "output", "o", "out.png", "destination PNG file")
}

func runImage(cmd *cobra.Command, args []string) error {
	scale := request.ScaleFit
	if imageFill {
		scale = request.ScaleFill
	}

	return withEngine(cmd, func(ctx context.Context, e *fetchq.Engine) error {
		type outcome struct {
			c   *asset.Container
			err error
		}
		done := make(chan outcome, 1)

		listener := asset.ListenerFuncs{
			Response: func(c *asset.Container, immediate bool) {
				if c.Image != nil {
					done <- outcome{c: c}
				}
			},
			Error: func(c *asset.Container, err error) {
				done <- outcome{c: c, err: err}
			},
		}

		var c *asset.Container
		err := e.Run(ctx, func(ctx context.Context) {
			c = e.FetchAsset(ctx, args[0], imageWidth, imageHeight, scale, listener)
		})
		if err != nil {
			return err
		}

		var res outcome
		select {
		case res = <-done:
		case <-ctx.Done():
			_ = e.Run(context.Background(), c.Cancel)
			return ctx.Err()
		}
		if res.err != nil {
			return res.err
		}

		f, err := os.Create(imageOut)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()

		if err := png.Encode(f, res.c.Image); err != nil {
			return fmt.Errorf("encoding png: %w", err)
		}

		b := res.c.Image.Bounds()
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%dx%d)\n", imageOut, b.Dx(), b.Dy())
		return nil
	})
}
