package export

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stwalsh4118/coopzone/internal/models"
)

// runDocument is the YAML shape of a run summary.
type runDocument struct {
	RunID     string         `yaml:"run_id"`
	CreatedAt time.Time      `yaml:"created_at"`
	Radius    float64        `yaml:"radius"`
	Summary   models.Summary `yaml:"summary"`
}

// WriteSummary writes the run summary as YAML.
func WriteSummary(w io.Writer, set *models.ExclusionSet) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	doc := runDocument{
		RunID:     set.RunID.String(),
		CreatedAt: set.CreatedAt,
		Radius:    set.Radius,
		Summary:   set.Summary,
	}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush run summary: %w", err)
	}
	return nil
}
