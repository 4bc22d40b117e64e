package sla

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimops/slatracker/internal/database"
)

func TestResolveTargetHours_TierTable(t *testing.T) {
	calc := NewCalculator(DefaultTargetTable())

	tests := []struct {
		name     string
		slaType  database.SLAType
		priority string
		want     float64
	}{
		{"medium completion", database.SLATypeTaskCompletion, "Medium", 24},
		{"low response", database.SLATypeResponseTime, "Low", 2},
		{"normal resolution", database.SLATypeResolutionTime, "Normal", 48},
		{"high completion", database.SLATypeTaskCompletion, "High", 8},
		{"urgent response", database.SLATypeResponseTime, "urgent", 1},
		{"urgent resolution", database.SLATypeResolutionTime, "Urgent", 12},
		{"critical completion", database.SLATypeTaskCompletion, "Critical", 4},
		{"critical response", database.SLATypeResponseTime, "CRITICAL", 0.5},
		{"critical resolution", database.SLATypeResolutionTime, "Critical", 6},
		{"other type uses completion", database.SLATypeQualityMetrics, "High", 8},
		{"unknown priority is standard", database.SLATypeTaskCompletion, "whenever", 24},
		{"empty priority is standard", database.SLATypeClientCommunication, "", 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.ResolveTargetHours(tt.slaType, tt.priority, nil, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTargetHours_Precedence(t *testing.T) {
	calc := NewCalculator(DefaultTargetTable())
	custom := map[database.SLAType]float64{database.SLATypeTaskCompletion: 36}

	explicit := 10.0
	assert.Equal(t, 10.0, calc.ResolveTargetHours(database.SLATypeTaskCompletion, "Medium", &explicit, custom))
	assert.Equal(t, 36.0, calc.ResolveTargetHours(database.SLATypeTaskCompletion, "Medium", nil, custom))
	assert.Equal(t, 2.0, calc.ResolveTargetHours(database.SLATypeResponseTime, "Medium", nil, custom))

	zero := 0.0
	assert.Equal(t, 36.0, calc.ResolveTargetHours(database.SLATypeTaskCompletion, "Medium", &zero, custom),
		"non-positive explicit target falls through")
}

func TestLoadTargetTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.yaml")
	content := "urgent:\n  completion: 6\ncritical:\n  response: 0.25\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := LoadTargetTable(path)
	require.NoError(t, err)

	assert.Equal(t, 6.0, table.Hours(TierUrgent, CategoryCompletion))
	assert.Equal(t, 1.0, table.Hours(TierUrgent, CategoryResponse), "unset entries keep defaults")
	assert.Equal(t, 0.25, table.Hours(TierCritical, CategoryResponse))
	assert.Equal(t, 24.0, table.Hours(TierStandard, CategoryCompletion))
}

func TestLoadTargetTable_Errors(t *testing.T) {
	_, err := LoadTargetTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("standard:\n  completion: -1\n"), 0o600))
	_, err = LoadTargetTable(path)
	assert.Error(t, err)

	table, err := LoadTargetTable("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTargetTable(), table)
}

func TestCalculatorDoesNotShareTable(t *testing.T) {
	table := DefaultTargetTable()
	calc := NewCalculator(table)
	table.Standard.Completion = 99

	assert.Equal(t, 24.0, calc.Targets().Standard.Completion)
}

func TestIsValidPriority(t *testing.T) {
	assert.True(t, IsValidPriority("critical"))
	assert.True(t, IsValidPriority("Normal"))
	assert.False(t, IsValidPriority("P1"))
}
