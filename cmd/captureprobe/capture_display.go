package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

func newCaptureDisplayCmd() *cobra.Command {
	var display, output, format string
	var quality int
	var scale float64
	cmd := &cobra.Command{
		Use:     "capture-display",
		Short:   "Capture a display, or the backend's default display if --display is unset",
		Example: "captureprobe capture-display --output desktop.png --format png",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.DefaultCaptureOptions()
			opts.Format = model.Format(format)
			opts.Quality = model.ClampQuality(quality)
			opts.Scale = model.ClampScale(scale)

			var displayID *string
			if display != "" {
				displayID = &display
			}

			buf, err := currentEngine().CaptureDisplay(context.Background(), displayID, opts)
			if err != nil {
				return err
			}
			return writeImage(buf, opts.Format, opts.Quality, output)
		},
	}
	cmd.Flags().StringVar(&display, "display", "", "display id; empty selects the backend's default display (X11: the whole root window)")
	cmd.Flags().StringVar(&output, "output", "-", "output path, or - for stdout")
	cmd.Flags().StringVar(&format, "format", string(model.FormatWebP), "png|jpeg|webp")
	cmd.Flags().IntVar(&quality, "quality", 85, "encode quality [1,100]: jpeg quality or png compression effort; ignored for webp")
	cmd.Flags().Float64Var(&scale, "scale", 1.0, "output scale factor [0.1,2.0]")
	return cmd
}
