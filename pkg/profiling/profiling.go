// Package profiling adds pprof capture to long-running commands.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Profiler owns the --cpu-profile and --mem-profile flags of a command.
type Profiler struct {
	cpuPath string
	memPath string
	cpuFile *os.File
}

// New creates a Profiler with profiling off.
func New() *Profiler {
	return &Profiler{}
}

// AddFlags registers the profiling flags on cmd.
func (p *Profiler) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.cpuPath, "cpu-profile", "", "Write a CPU profile to this file until the command exits")
	cmd.Flags().StringVar(&p.memPath, "mem-profile", "", "Write a heap profile to this file when the command exits")
}

// Start begins CPU profiling when it was requested.
func (p *Profiler) Start() error {
	if p.cpuPath == "" {
		return nil
	}
	f, err := os.Create(p.cpuPath)
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("could not start CPU profile: %w", err)
	}
	p.cpuFile = f
	return nil
}

// Stop finishes the CPU profile and writes the heap profile, reporting
// where they went to logger.
func (p *Profiler) Stop(logger *logrus.Entry) {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
		logger.WithField("path", p.cpuPath).Info("CPU profile written")
	}

	if p.memPath == "" {
		return
	}
	f, err := os.Create(p.memPath)
	if err != nil {
		logger.WithError(err).Warn("Could not create memory profile")
		return
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		logger.WithError(err).Warn("Could not write memory profile")
		return
	}
	logger.WithField("path", p.memPath).Info("Memory profile written")
}
