package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	d := Default()

	assert.Equal(t, uint8(213), d.Consensus.MaxSteps)
	assert.Equal(t, 0.67, d.Consensus.QuorumThreshold)
	assert.Equal(t, uint16(64), d.Consensus.MaxCommitteeSize)
	assert.Equal(t, "testnet", d.General.Network)
}

func TestDurationAccessors(t *testing.T) {
	c := Consensus{StepTimeoutMs: 1500, TimeoutCapMs: 9000, ConsensusDelayMs: 250}

	assert.Equal(t, 1500*time.Millisecond, c.StepTimeout())
	assert.Equal(t, 9000*time.Millisecond, c.TimeoutCap())
	assert.Equal(t, 250*time.Millisecond, c.ConsensusDelay())
}

func TestMockInstallsRegistry(t *testing.T) {
	defer Mock(Default())

	custom := Registry{Consensus: Consensus{MaxSteps: 7}}
	Mock(custom)

	assert.Equal(t, uint8(7), Get().Consensus.MaxSteps)
}

func TestLoadOverridesOnlyNamedFields(t *testing.T) {
	defer Mock(Default())

	dir := t.TempDir()
	path := filepath.Join(dir, "consensus.toml")

	contents := "[consensus]\nmaxsteps = 5\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	require.NoError(t, Load(path))

	got := Get()
	assert.Equal(t, uint8(5), got.Consensus.MaxSteps)
	assert.Equal(t, 0.67, got.Consensus.QuorumThreshold, "unspecified fields should fall back to Default()")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	defer Mock(Default())
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.toml")))
}
