package sla

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/claimops/slatracker/internal/database"
)

// Tier is a priority-derived bucket of default targets
type Tier string

const (
	TierStandard Tier = "STANDARD"
	TierUrgent   Tier = "URGENT"
	TierCritical Tier = "CRITICAL"
)

// Category selects which target of a tier applies to an SLA type
type Category string

const (
	CategoryCompletion Category = "completion"
	CategoryResponse   Category = "response"
	CategoryResolution Category = "resolution"
)

// TierTargets holds the hours per category for one tier
type TierTargets struct {
	Completion float64 `yaml:"completion" json:"completion"`
	Response   float64 `yaml:"response" json:"response"`
	Resolution float64 `yaml:"resolution" json:"resolution"`
}

// Hours returns the target for the category
func (t TierTargets) Hours(c Category) float64 {
	switch c {
	case CategoryResponse:
		return t.Response
	case CategoryResolution:
		return t.Resolution
	default:
		return t.Completion
	}
}

// TargetTable is the immutable tier → category → hours table. It is passed
// around by value and never modified after loading.
type TargetTable struct {
	Standard TierTargets `yaml:"standard" json:"standard"`
	Urgent   TierTargets `yaml:"urgent" json:"urgent"`
	Critical TierTargets `yaml:"critical" json:"critical"`
}

// DefaultTargetTable returns the built-in targets
func DefaultTargetTable() TargetTable {
	return TargetTable{
		Standard: TierTargets{Completion: 24, Response: 2, Resolution: 48},
		Urgent:   TierTargets{Completion: 8, Response: 1, Resolution: 12},
		Critical: TierTargets{Completion: 4, Response: 0.5, Resolution: 6},
	}
}

// Tier returns the targets of one tier
func (t TargetTable) Tier(tier Tier) TierTargets {
	switch tier {
	case TierUrgent:
		return t.Urgent
	case TierCritical:
		return t.Critical
	default:
		return t.Standard
	}
}

// Hours looks up the target hours for a tier and category
func (t TargetTable) Hours(tier Tier, c Category) float64 {
	return t.Tier(tier).Hours(c)
}

// Validate checks that every target is positive
func (t TargetTable) Validate() error {
	for _, tier := range []Tier{TierStandard, TierUrgent, TierCritical} {
		tt := t.Tier(tier)
		for _, c := range []Category{CategoryCompletion, CategoryResponse, CategoryResolution} {
			if tt.Hours(c) <= 0 {
				return fmt.Errorf("target for %s/%s must be positive", tier, c)
			}
		}
	}
	return nil
}

// LoadTargetTable reads a YAML target table. Entries missing from the file
// keep their default value.
func LoadTargetTable(path string) (TargetTable, error) {
	table := DefaultTargetTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return TargetTable{}, fmt.Errorf("failed to read target table: %w", err)
	}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return TargetTable{}, fmt.Errorf("failed to parse target table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return TargetTable{}, err
	}
	return table, nil
}

// TierForPriority maps a priority label to its tier. Unknown labels are STANDARD.
func TierForPriority(priority string) Tier {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "high", "urgent":
		return TierUrgent
	case "critical":
		return TierCritical
	default:
		return TierStandard
	}
}

// ValidPriorities are the priority labels accepted on input
func ValidPriorities() []string {
	return []string{"Low", "Medium", "Normal", "High", "Urgent", "Critical"}
}

// IsValidPriority reports whether priority is a known label (case-insensitive)
func IsValidPriority(priority string) bool {
	for _, p := range ValidPriorities() {
		if strings.EqualFold(p, strings.TrimSpace(priority)) {
			return true
		}
	}
	return false
}

// CategoryForType maps an SLA type to the category used for its default target
func CategoryForType(t database.SLAType) Category {
	switch t {
	case database.SLATypeResponseTime:
		return CategoryResponse
	case database.SLATypeResolutionTime:
		return CategoryResolution
	default:
		return CategoryCompletion
	}
}

// Calculator resolves target hours from a fixed target table
type Calculator struct {
	targets TargetTable
}

// NewCalculator creates a calculator over a copy of targets
func NewCalculator(targets TargetTable) Calculator {
	return Calculator{targets: targets}
}

// Targets returns the table the calculator was built with
func (c Calculator) Targets() TargetTable {
	return c.targets
}

// ResolveTargetHours picks the target: explicit value, then the per-type
// custom override, then the tier default for the type's category.
func (c Calculator) ResolveTargetHours(slaType database.SLAType, priority string, explicit *float64, custom map[database.SLAType]float64) float64 {
	if explicit != nil && *explicit > 0 {
		return *explicit
	}
	if h, ok := custom[slaType]; ok && h > 0 {
		return h
	}
	return c.targets.Hours(TierForPriority(priority), CategoryForType(slaType))
}
