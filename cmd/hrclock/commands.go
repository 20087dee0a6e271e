package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"go.sazak.io/hrclock/clock"
)

func (a *app) newNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Print the current monotonic clock reading in nanoseconds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), int64(clock.Now()))
			return nil
		},
	}
}

func (a *app) newSinceCmd() *cobra.Command {
	var units string

	cmd := &cobra.Command{
		Use:   "since <timestamp>",
		Short: "Print the time elapsed since a reading taken with 'hrclock now'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid timestamp %q: %w", args[0], err)
			}

			list, err := parseUnitList(units, a.cfg.Unit)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), formatDistance(clock.Since(clock.Timestamp(start)), list))
			return nil
		},
	}

	cmd.Flags().StringVar(&units, "units", "", "comma separated units to print (default: --unit)")
	return cmd
}

func (a *app) newConvertCmd() *cobra.Command {
	var units string

	cmd := &cobra.Command{
		Use:   "convert <nanoseconds>",
		Short: "Convert a nanosecond duration to other units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nanos, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", args[0], err)
			}

			list, err := parseUnitList(units, a.cfg.Unit)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), formatDistance(nanos, list))
			return nil
		},
	}

	cmd.Flags().StringVar(&units, "units", "", "comma separated units to print (default: --unit)")
	return cmd
}
