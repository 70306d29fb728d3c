// Package catalog loads products, steps, document requirements and agents
// from a YAML file into the workflow store.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"formation-backend/internal/shared/telemetry"
	"formation-backend/internal/workflow"
)

type Seed struct {
	DocumentTypes []DocumentTypeSeed `yaml:"document_types"`
	Steps         []StepSeed         `yaml:"steps"`
	Products      []ProductSeed      `yaml:"products"`
	Agents        []AgentSeed        `yaml:"agents"`
}

type DocumentTypeSeed struct {
	ID    string `yaml:"id"`
	Code  string `yaml:"code"`
	Label string `yaml:"label"`
}

type StepSeed struct {
	ID                string            `yaml:"id"`
	Code              string            `yaml:"code"`
	Label             string            `yaml:"label"`
	Type              workflow.StepType `yaml:"type"`
	Position          int               `yaml:"position"`
	RequiredDocuments []string          `yaml:"required_documents"`
}

type ProductSeed struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name"`
	DossierType   string            `yaml:"dossier_type"`
	InitialStatus string            `yaml:"initial_status"`
	Active        *bool             `yaml:"active"`
	Steps         []ProductStepSeed `yaml:"steps"`
}

type ProductStepSeed struct {
	Step             string `yaml:"step"`
	Position         int    `yaml:"position"`
	Required         *bool  `yaml:"required"`
	StatusOnApproval string `yaml:"status_on_approval"`
}

type AgentSeed struct {
	ID     string             `yaml:"id"`
	UserID string             `yaml:"user_id"`
	Type   workflow.AgentType `yaml:"type"`
	Name   string             `yaml:"name"`
	Active *bool              `yaml:"active"`
}

// Load reads and validates a seed file.
func Load(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read catalog seed: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates seed YAML. Unknown keys are rejected.
func Parse(raw []byte) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("decode catalog seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return Seed{}, err
	}
	return seed, nil
}

// Validate checks references, step types, statuses and product orderings.
func (s Seed) Validate() error {
	docTypes := make(map[string]struct{}, len(s.DocumentTypes))
	for _, dt := range s.DocumentTypes {
		if dt.ID == "" || dt.Code == "" {
			return fmt.Errorf("%w: document type needs id and code", workflow.ErrInvalidConfiguration)
		}
		docTypes[dt.ID] = struct{}{}
	}

	steps := make(map[string]struct{}, len(s.Steps))
	for _, st := range s.Steps {
		if st.ID == "" || st.Code == "" {
			return fmt.Errorf("%w: step needs id and code", workflow.ErrInvalidConfiguration)
		}
		if !st.Type.Valid() {
			return fmt.Errorf("%w: step %s has unknown type %q", workflow.ErrInvalidConfiguration, st.ID, st.Type)
		}
		for _, dt := range st.RequiredDocuments {
			if _, ok := docTypes[dt]; !ok {
				return fmt.Errorf("%w: step %s requires unknown document type %s", workflow.ErrInvalidConfiguration, st.ID, dt)
			}
		}
		steps[st.ID] = struct{}{}
	}

	for _, p := range s.Products {
		if p.ID == "" || p.DossierType == "" {
			return fmt.Errorf("%w: product needs id and dossier_type", workflow.ErrInvalidConfiguration)
		}
		if p.InitialStatus != "" && !workflow.IsAllowedDossierStatus(p.InitialStatus) {
			return fmt.Errorf("%w: product %s has unknown initial status %s", workflow.ErrInvalidConfiguration, p.ID, p.InitialStatus)
		}
		rows := make([]workflow.ProductStep, 0, len(p.Steps))
		for _, ps := range p.Steps {
			if _, ok := steps[ps.Step]; !ok {
				return fmt.Errorf("%w: product %s references unknown step %s", workflow.ErrInvalidConfiguration, p.ID, ps.Step)
			}
			if ps.StatusOnApproval != "" && !workflow.IsAllowedDossierStatus(ps.StatusOnApproval) {
				return fmt.Errorf("%w: product %s step %s has unknown status %s", workflow.ErrInvalidConfiguration, p.ID, ps.Step, ps.StatusOnApproval)
			}
			rows = append(rows, workflow.ProductStep{ProductID: p.ID, StepID: ps.Step, Position: ps.Position})
		}
		if _, err := workflow.NewStepSequence(rows); err != nil {
			return err
		}
	}

	for _, a := range s.Agents {
		if a.ID == "" || a.UserID == "" {
			return fmt.Errorf("%w: agent needs id and user_id", workflow.ErrInvalidConfiguration)
		}
		if !a.Type.Valid() {
			return fmt.Errorf("%w: agent %s has unknown type %q", workflow.ErrInvalidConfiguration, a.ID, a.Type)
		}
	}
	return nil
}

// Apply writes the seed through the store in one transaction. Every write is
// idempotent so the same file can be applied on each start.
func Apply(ctx context.Context, repo workflow.Repo, seed Seed, now time.Time) error {
	err := repo.InTx(ctx, func(tx workflow.Repo) error {
		for _, dt := range seed.DocumentTypes {
			if err := tx.CreateDocumentType(ctx, workflow.DocumentType{ID: dt.ID, Code: dt.Code, Label: dt.Label}); err != nil {
				return fmt.Errorf("seed document type %s: %w", dt.ID, err)
			}
		}
		for _, st := range seed.Steps {
			if err := tx.CreateStep(ctx, workflow.Step{ID: st.ID, Code: st.Code, Label: st.Label, StepType: st.Type, Position: st.Position}); err != nil {
				return fmt.Errorf("seed step %s: %w", st.ID, err)
			}
			for _, dt := range st.RequiredDocuments {
				if err := tx.RequireDocumentType(ctx, st.ID, dt); err != nil {
					return fmt.Errorf("seed step %s requirement %s: %w", st.ID, dt, err)
				}
			}
		}
		for _, p := range seed.Products {
			initial := p.InitialStatus
			if initial == "" {
				initial = workflow.DossierPending
			}
			if err := tx.CreateProduct(ctx, workflow.Product{
				ID:            p.ID,
				Name:          p.Name,
				DossierType:   p.DossierType,
				InitialStatus: initial,
				Active:        boolOr(p.Active, true),
				CreatedAt:     now,
			}); err != nil {
				return fmt.Errorf("seed product %s: %w", p.ID, err)
			}
			for _, ps := range p.Steps {
				if err := tx.CreateProductStep(ctx, workflow.ProductStep{
					ProductID:               p.ID,
					StepID:                  ps.Step,
					Position:                ps.Position,
					IsRequired:              boolOr(ps.Required, true),
					DossierStatusOnApproval: ps.StatusOnApproval,
				}); err != nil {
					return fmt.Errorf("seed product %s step %s: %w", p.ID, ps.Step, err)
				}
			}
		}
		for _, a := range seed.Agents {
			if err := tx.CreateAgent(ctx, workflow.Agent{
				ID:        a.ID,
				UserID:    a.UserID,
				AgentType: a.Type,
				Name:      a.Name,
				Active:    boolOr(a.Active, true),
				CreatedAt: now,
			}); err != nil {
				return fmt.Errorf("seed agent %s: %w", a.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	telemetry.Info("catalog.seeded", map[string]any{
		"document_types": len(seed.DocumentTypes),
		"steps":          len(seed.Steps),
		"products":       len(seed.Products),
		"agents":         len(seed.Agents),
	})
	return nil
}

// LoadAndApply is Load followed by Apply.
func LoadAndApply(ctx context.Context, repo workflow.Repo, path string) error {
	seed, err := Load(path)
	if err != nil {
		return err
	}
	return Apply(ctx, repo, seed, time.Now().UTC())
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
