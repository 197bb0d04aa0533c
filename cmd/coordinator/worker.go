package main

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zerverless/coordinator/internal/volunteer"
	"github.com/zerverless/coordinator/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var (
		contributorID string
		caps          volunteer.Capabilities
		noLua, noJS   bool
		timeout       time.Duration
	)

	cmd := &cobra.Command{
		Use:     "worker <ws-url>",
		Short:   "Run a reference contributor against a coordinator",
		Example: "  coordinator worker ws://localhost:8000/ws/volunteer --contributor alice --cores 4",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caps.Lua = !noLua
			caps.JS = !noJS

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Infof("Starting worker, connecting to: %s", args[0])
			w := worker.NewWithOptions(args[0], worker.Options{
				ContributorID: contributorID,
				Capabilities:  &caps,
				KernelTimeout: timeout,
			})
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			log.Info("Worker stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&contributorID, "contributor", "", "contributor id credited with results (default: assigned by the coordinator)")
	f.BoolVar(&caps.GPU, "gpu", false, "advertise a GPU")
	f.BoolVar(&caps.WebGPU, "webgpu", false, "advertise WebGPU")
	f.BoolVar(&caps.Wasm, "wasm", true, "advertise WebAssembly")
	f.IntVar(&caps.CPUCores, "cores", runtime.NumCPU(), "CPU cores to advertise")
	f.Float64Var(&caps.MemoryGB, "memory-gb", 1, "memory to advertise in GB")
	f.BoolVar(&noLua, "no-lua", false, "do not accept Lua kernels")
	f.BoolVar(&noJS, "no-js", false, "do not accept JavaScript kernels")
	f.DurationVar(&timeout, "kernel-timeout", time.Minute, "per-job kernel time limit")
	return cmd
}
