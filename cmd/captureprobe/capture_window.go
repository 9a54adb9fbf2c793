package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

func newCaptureWindowCmd() *cobra.Command {
	var handle, output, format string
	var quality int
	var scale float64
	cmd := &cobra.Command{
		Use:     "capture-window",
		Short:   "Capture a window by handle",
		Example: "captureprobe capture-window --handle 12345 --output shot.webp",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.DefaultCaptureOptions()
			opts.Format = model.Format(format)
			opts.Quality = model.ClampQuality(quality)
			opts.Scale = model.ClampScale(scale)

			buf, err := currentEngine().CaptureWindow(context.Background(), handle, opts)
			if err != nil {
				return err
			}
			return writeImage(buf, opts.Format, opts.Quality, output)
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "window handle, as printed by list-windows or resolve")
	cmd.Flags().StringVar(&output, "output", "-", "output path, or - for stdout")
	cmd.Flags().StringVar(&format, "format", string(model.FormatWebP), "png|jpeg|webp")
	cmd.Flags().IntVar(&quality, "quality", 85, "encode quality [1,100]: jpeg quality or png compression effort; ignored for webp")
	cmd.Flags().Float64Var(&scale, "scale", 1.0, "output scale factor [0.1,2.0]")
	cmd.MarkFlagRequired("handle")
	return cmd
}
