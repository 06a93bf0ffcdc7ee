package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ralphx/ralphx/internal/doctor"
	"github.com/ralphx/ralphx/internal/eventbus"
	"github.com/ralphx/ralphx/internal/metrics"
)

// newDoctorCommand implements `ralphx doctor` (spec §4.6): one sweep by
// default, or a standing background sweep under --watch.
func newDoctorCommand(projectDir, logLevel *string) *cobra.Command {
	var dryRun, watch bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Detect and clean up stale runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*projectDir, *logLevel)
			if err != nil {
				return err
			}
			defer e.close()

			bus := eventbus.NewInMemoryBus(e.logger, 64)
			defer bus.Close()
			mc := metrics.New()
			mc.Attach(bus)
			d := doctor.New(e.store, e.cfg.Doctor, bus, e.logger)

			if !watch {
				return runDoctorSweep(e, d, dryRun)
			}

			e.ok("watching for stale runs every %s (ctrl-C to stop)", e.cfg.Doctor.SweepInterval)
			ctx, cancel := background()
			defer cancel()
			d.RunBackgroundSweep(ctx)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report stale runs without aborting them")
	cmd.Flags().BoolVar(&watch, "watch", false, "run continuously on the configured sweep interval instead of once")
	return cmd
}

func runDoctorSweep(e *env, d *doctor.Doctor, dryRun bool) error {
	ctx, cancel := background()
	defer cancel()

	stale, err := d.Check(ctx, dryRun)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		e.ok("no stale runs found")
		return nil
	}
	for _, run := range stale {
		verb := "would abort"
		if !dryRun {
			verb = "aborted"
		}
		fmt.Printf("%s run %s (loop %s, status %s)\n", verb, run.ID, run.LoopName, run.Status)
	}
	return nil
}
