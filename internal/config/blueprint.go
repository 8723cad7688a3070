// Package config turns viper settings into an exam blueprint.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/pavelanni/mockexam/internal/model"
)

// SectionConfig is one entry of the exam.sections list.
//
//	exam:
//	  sections:
//	    - label: Rules & Regs
//	      first-id: 1
//	      last-id: 45
//	      quotas:
//	        - {type: TF, count: 5}
type SectionConfig struct {
	Label   string        `mapstructure:"label"`
	FirstID int           `mapstructure:"first-id"`
	LastID  int           `mapstructure:"last-id"`
	Quotas  []QuotaConfig `mapstructure:"quotas"`
}

// QuotaConfig is a per-type draw count inside a section.
type QuotaConfig struct {
	Type  string `mapstructure:"type"`
	Count int    `mapstructure:"count"`
}

// Blueprint reads exam.sections and time-limit from v. Missing sections
// fall back to the reference blueprint; a missing time limit to 20 minutes.
func Blueprint(v *viper.Viper) (model.Blueprint, error) {
	bp := model.DefaultBlueprint()

	if d := v.GetDuration("time-limit"); d != 0 {
		bp.TimeLimit = d
	}
	if bp.TimeLimit <= 0 {
		return model.Blueprint{}, fmt.Errorf("time-limit must be positive, got %s", bp.TimeLimit)
	}

	if !v.IsSet("exam.sections") {
		return bp, nil
	}
	var sections []SectionConfig
	if err := v.UnmarshalKey("exam.sections", &sections); err != nil {
		return model.Blueprint{}, fmt.Errorf("decode exam.sections: %w", err)
	}
	quotas, err := buildQuotas(sections)
	if err != nil {
		return model.Blueprint{}, err
	}
	bp.Quotas = quotas
	return bp, nil
}

func buildQuotas(sections []SectionConfig) ([]model.Quota, error) {
	if len(sections) == 0 {
		return nil, errors.New("exam.sections is empty")
	}
	var quotas []model.Quota
	for i, sc := range sections {
		if sc.FirstID <= 0 || sc.LastID < sc.FirstID {
			return nil, fmt.Errorf("section %d (%s): invalid id range %d-%d", i, sc.Label, sc.FirstID, sc.LastID)
		}
		sec := model.Section{Label: sc.Label, FirstID: sc.FirstID, LastID: sc.LastID}
		for _, qc := range sc.Quotas {
			typ, err := model.ParseQuestionType(qc.Type)
			if err != nil {
				return nil, fmt.Errorf("section %d (%s): %w", i, sc.Label, err)
			}
			if qc.Count < 0 {
				return nil, fmt.Errorf("section %d (%s): negative count for %s", i, sc.Label, typ)
			}
			quotas = append(quotas, model.Quota{Section: sec, Type: typ, Count: qc.Count})
		}
	}
	return quotas, nil
}

// Describe is a one-line summary used in startup logs.
func Describe(bp model.Blueprint) string {
	return fmt.Sprintf("%d questions in %d quotas, %s", bp.QuestionCount(), len(bp.Quotas), bp.TimeLimit.Round(time.Second))
}
