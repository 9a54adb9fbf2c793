package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

func newResolveCmd() *cobra.Command {
	var title, class, exe string
	cmd := &cobra.Command{
		Use:     "resolve",
		Short:   "Resolve a window selector to a handle",
		Example: "captureprobe resolve --title 'Mozilla Firefox'",
		RunE: func(cmd *cobra.Command, args []string) error {
			selector := model.WindowSelector{Title: title, Class: class, Exe: exe}
			handle, err := currentEngine().Resolve(context.Background(), selector)
			if err != nil {
				return err
			}
			fmt.Println(handle)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "window title to match (regex, then substring, then fuzzy)")
	cmd.Flags().StringVar(&class, "class", "", "window class to match (exact, case-insensitive)")
	cmd.Flags().StringVar(&exe, "exe", "", "owning executable name to match (exact, case-insensitive)")
	return cmd
}
