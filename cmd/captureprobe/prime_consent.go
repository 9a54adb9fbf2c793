package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/becksclair/screenshot-capture-engine/internal/engineerror"
	"github.com/becksclair/screenshot-capture-engine/internal/model"
)

func newPrimeConsentCmd() *cobra.Command {
	var sourceType, sourceID string
	var cursor bool
	cmd := &cobra.Command{
		Use:     "prime-consent",
		Short:   "Prime Wayland portal consent and mint a restore token (Wayland only)",
		Example: "captureprobe prime-consent --source-type monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseSourceType(sourceType)
			if err != nil {
				return err
			}
			result, err := currentEngine().PrimeConsent(context.Background(), st, sourceID, cursor)
			if err != nil {
				return err
			}
			fmt.Printf("primary=%s streams=%d all=%v\n", result.PrimarySourceID, result.NumStreams, result.AllSourceIDs)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceType, "source-type", "monitor", "monitor|window|virtual")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "existing restore token source id to re-prime, if any")
	cmd.Flags().BoolVar(&cursor, "cursor", false, "include the cursor in primed streams")
	return cmd
}

func parseSourceType(s string) (model.SourceType, error) {
	switch s {
	case "monitor":
		return model.SourceMonitor, nil
	case "window":
		return model.SourceWindow, nil
	case "virtual":
		return model.SourceVirtual, nil
	default:
		return 0, engineerror.NewInvalidParameter("source-type", fmt.Sprintf("unrecognized source type %q", s))
	}
}
