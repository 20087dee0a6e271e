package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.sazak.io/hrclock/clock"
	"go.sazak.io/hrclock/cmd/hrclock/storage"
)

type runOptions struct {
	repeat int
	units  string
	record bool
	quiet  bool
}

func (a *app) newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Time a command, optionally recording every run as a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.repeat, "repeat", "n", 1, "number of times to run the command")
	flags.StringVar(&opts.units, "units", "", "comma separated units to print (default: --unit)")
	flags.BoolVar(&opts.record, "record", false, "record samples to a new session")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "discard the command's output")
	return cmd
}

// measure runs one repetition and returns its sample. A command that starts
// but exits non-zero is a valid sample.
func measure(ctx context.Context, seq uint64, args []string, quiet bool) (*storage.Sample, error) {
	c := exec.CommandContext(ctx, args[0], args[1:]...)
	c.Stdin = os.Stdin
	if !quiet {
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
	}

	var start, end clock.Clock
	start.Tick()
	err := c.Run()
	end.Tick()

	sample := &storage.Sample{
		Seq:   seq,
		Start: int64(start.Start),
		End:   int64(end.Start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		sample.ExitCode = int32(exitErr.ExitCode())
	default:
		return nil, fmt.Errorf("run %s: %w", args[0], err)
	}

	return sample, nil
}

func (a *app) run(ctx context.Context, cmd *cobra.Command, opts *runOptions, args []string) error {
	if opts.repeat <= 0 {
		return errors.New("--repeat must be positive")
	}

	units, err := parseUnitList(opts.units, a.cfg.Unit)
	if err != nil {
		return err
	}

	var store storage.SampleStore
	var session *storage.Session
	if opts.record {
		manager, err := storage.NewManager(a.cfg.StorageDir)
		if err != nil {
			return fmt.Errorf("creating storage manager: %w", err)
		}

		session = &storage.Session{
			StartTime: time.Now(),
			Command:   strings.Join(args, " "),
			Unit:      units[0].String(),
		}
		store, err = manager.CreateSession(ctx, session, a.cfg.StorageFormat)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		defer store.Close()

		a.logger.Info("recording session",
			zap.String("session", session.ID),
			zap.String("format", session.Format),
			zap.String("dir", a.cfg.StorageDir))
	}

	out := cmd.OutOrStdout()
	samples := make([]*storage.Sample, 0, opts.repeat)
	var total clock.Clock
	total.Tick()

	for i := 1; i <= opts.repeat; i++ {
		if ctx.Err() != nil {
			a.logger.Warn("interrupted", zap.Int("completed", len(samples)))
			break
		}

		sample, err := measure(ctx, uint64(i), args, opts.quiet)
		if err != nil {
			return err
		}
		samples = append(samples, sample)

		a.logger.Debug("run finished",
			zap.Uint64("seq", sample.Seq),
			zap.Int64("elapsed_ns", sample.Elapsed()),
			zap.Int32("exit_code", sample.ExitCode))

		line := fmt.Sprintf("run %d: %s", sample.Seq, formatDistance(sample.Elapsed(), units))
		if sample.ExitCode != 0 {
			line += fmt.Sprintf(" (exit %d)", sample.ExitCode)
		}
		fmt.Fprintln(out, line)
	}

	if len(samples) > 1 {
		var sum int64
		for _, s := range samples {
			sum += s.Elapsed()
		}
		fmt.Fprintf(out, "mean: %s over %d runs\n", formatDistance(sum/int64(len(samples)), units), len(samples))
	}

	if store == nil {
		return nil
	}

	if err := store.WriteBatch(samples); err != nil {
		return fmt.Errorf("writing samples: %w", err)
	}

	wall := time.Now()
	recorded := store.GetSession()
	recorded.EndTime = &wall
	if err := store.UpdateSession(recorded); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	a.logger.Info("session recorded",
		zap.String("session", recorded.ID),
		zap.Int64("samples", recorded.SampleCount),
		zap.Duration("elapsed", total.Elapsed()))
	fmt.Fprintf(out, "session: %s\n", recorded.ID)
	return nil
}
