package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newListWindowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-windows",
		Short: "Enumerate capturable windows",
		Example: "captureprobe list-windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			windows, err := currentEngine().ListWindows(context.Background())
			if err != nil {
				return err
			}
			for _, w := range windows {
				fmt.Printf("%s\t%s\t%s\t%s\t%d\n", w.Handle, w.Title, w.Class, w.Owner, w.PID)
			}
			return nil
		},
	}
}
