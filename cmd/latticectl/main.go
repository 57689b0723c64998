// Command latticectl drives a lattice compute from the shell, mostly
// useful for smoke-testing a Context/worker configuration (spec §6
// "debug_compute"), grounded in the spf13/cobra command structure
// used for multi-verb CLIs in the example pack.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/latticerun/lattice"
	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/compute"
	"github.com/latticerun/lattice/config"
	"github.com/latticerun/lattice/log"
	"github.com/latticerun/lattice/runctx"
	"github.com/latticerun/lattice/thunk"
	"github.com/latticerun/lattice/values"
	"github.com/latticerun/lattice/worker"
)

var (
	configPath string
	profile    bool
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:   "latticectl",
		Short: "Drive a lattice compute from the command line",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML Context document")
	root.PersistentFlags().BoolVar(&profile, "profile", false, "log the compute call's elapsed time (shown with --debug)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.AddCommand(echoCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// echoCmd builds a tiny single-leaf Computation -- one Thunk that
// returns the text doubled -- and runs it to completion, as a smoke
// test of the configured worker set.
func echoCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Compute a small example graph and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, w, err := loadContext()
			if err != nil {
				return err
			}
			if debug {
				rc.Log = log.New(log.Std.Outputter, log.DebugLevel)
			}
			c := buildEcho(text)
			computed, err := lattice.DebugCompute(context.Background(), rc, c, profile, w)
			if err != nil {
				return err
			}
			v, err := computed.Gather(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "hello", "text to echo")
	return cmd
}

func buildEcho(text string) compute.Computation {
	return &compute.Leaf{
		Name: "echo:" + text,
		Stage: func(ctx *runctx.Context) (interface{}, error) {
			return thunk.New(func(_ context.Context, ins []values.T) (values.T, error) {
				return text + text, nil
			}), nil
		},
	}
}

func loadContext() (*runctx.Context, worker.Worker, error) {
	if configPath == "" {
		rc := runctx.New(affinity.Worker("local"))
		return rc, worker.NewLocal("local", 0), nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	rc, err := config.Unmarshal(data)
	if err != nil {
		return nil, nil, err
	}
	if len(rc.Workers) == 0 {
		return nil, nil, fmt.Errorf("config %s names no workers", configPath)
	}
	return rc, worker.NewLocal(rc.Workers[0], 0), nil
}
