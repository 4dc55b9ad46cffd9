package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilesAreWritten(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.pprof")
	mem := filepath.Join(dir, "mem.pprof")

	p := New()
	cmd := &cobra.Command{Use: "start", RunE: func(*cobra.Command, []string) error {
		if err := p.Start(); err != nil {
			return err
		}
		p.Stop(logrus.NewEntry(logrus.New()))
		return nil
	}}
	p.AddFlags(cmd)
	cmd.SetArgs([]string{"--cpu-profile", cpu, "--mem-profile", mem})
	require.NoError(t, cmd.Execute())

	for _, path := range []string{cpu, mem} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.NotZero(t, info.Size(), path)
	}
}

func TestDisabledProfilerDoesNothing(t *testing.T) {
	p := New()
	require.NoError(t, p.Start())
	p.Stop(logrus.NewEntry(logrus.New()))
}
