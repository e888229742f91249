// Package crmsync pulls deals and their related records out of HubSpot and
// normalizes them into canonical deals and engagement timelines.
package crmsync

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/deal-sync/internal/model"
	"github.com/sells-group/deal-sync/pkg/hubspot"
)

// StageRule maps stage labels containing any of Keywords onto Stage.
type StageRule struct {
	Stage    model.DealStage `yaml:"stage" mapstructure:"stage" json:"stage"`
	Keywords []string        `yaml:"keywords" mapstructure:"keywords" json:"keywords"`
}

// StageRules is evaluated in order; the first rule with a matching keyword
// wins.
type StageRules []StageRule

// DefaultStageRules returns the built-in English keyword table. Closed
// outcomes come first so "Closed Won - Contract Signed" never lands in
// negotiation.
func DefaultStageRules() StageRules {
	return StageRules{
		{Stage: model.StageClosedWon, Keywords: []string{"won"}},
		{Stage: model.StageClosedLost, Keywords: []string{"lost"}},
		{Stage: model.StageNegotiation, Keywords: []string{"negotiat", "contract"}},
		{Stage: model.StageProposal, Keywords: []string{"proposal", "quote"}},
		{Stage: model.StageDemo, Keywords: []string{"demo", "presentation"}},
		{Stage: model.StageDiscovery, Keywords: []string{"discover", "appointment"}},
		{Stage: model.StageQualified, Keywords: []string{"qualif"}},
	}
}

// Classify returns the canonical stage for a CRM stage label, defaulting to
// qualified when no rule matches.
func (r StageRules) Classify(label string) model.DealStage {
	folded := cases.Fold().String(label)
	for _, rule := range r {
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(folded, cases.Fold().String(kw)) {
				return rule.Stage
			}
		}
	}
	return model.StageQualified
}

// Validate checks that every rule targets a canonical stage and has at least
// one keyword.
func (r StageRules) Validate() error {
	for i, rule := range r {
		if !rule.Stage.Valid() {
			return eris.Errorf("crmsync: stage rule %d: unknown stage %q", i, rule.Stage)
		}
		if len(rule.Keywords) == 0 {
			return eris.Errorf("crmsync: stage rule %d (%s): no keywords", i, rule.Stage)
		}
	}
	return nil
}

// LoadStageRules reads a YAML list of rules:
//
//	- stage: closed_won
//	  keywords: [won, gewonnen, gagné]
func LoadStageRules(path string) (StageRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "crmsync: read stage rules %s", path)
	}
	var rules StageRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, eris.Wrapf(err, "crmsync: parse stage rules %s", path)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// ErrPipelineNotFound matches any *PipelineNotFoundError via errors.Is.
var ErrPipelineNotFound = eris.New("pipeline not found")

// PipelineNotFoundError is returned when the requested pipeline does not
// exist in the portal.
type PipelineNotFoundError struct {
	PipelineID string
}

func (e *PipelineNotFoundError) Error() string {
	return fmt.Sprintf("crmsync: pipeline %q not found", e.PipelineID)
}

// Is reports whether target is ErrPipelineNotFound.
func (e *PipelineNotFoundError) Is(target error) bool {
	return target == ErrPipelineNotFound
}

// StageInfo is the resolved view of one CRM stage.
type StageInfo struct {
	Label        string
	Stage        model.DealStage
	DisplayOrder int
}

// Catalog is the per-sync stage and pipeline-name lookup. It is built once
// per sync and passed explicitly to the normalizer.
type Catalog struct {
	PipelineID   string
	PipelineName string
	// Stages covers the target pipeline only, keyed by CRM stage id.
	Stages map[string]StageInfo
	// PipelineNames covers every pipeline in the portal so deals that moved
	// across pipelines still get a name.
	PipelineNames map[string]string
}

// Stage looks up a CRM stage id.
func (c *Catalog) Stage(id string) (StageInfo, bool) {
	if c == nil {
		return StageInfo{}, false
	}
	info, ok := c.Stages[id]
	return info, ok
}

// PipelineLabel returns the name of any portal pipeline, or "".
func (c *Catalog) PipelineLabel(id string) string {
	if c == nil {
		return ""
	}
	return c.PipelineNames[id]
}

// ResolveStages fetches the portal's deal pipelines and builds the catalog
// for pipelineID. A nil rules value uses DefaultStageRules.
func ResolveStages(ctx context.Context, client hubspot.Client, pipelineID string, rules StageRules) (*Catalog, error) {
	if rules == nil {
		rules = DefaultStageRules()
	}

	pipelines, err := client.ListPipelines(ctx, hubspot.ObjectDeals)
	if err != nil {
		return nil, eris.Wrap(err, "crmsync: list pipelines")
	}

	cat := &Catalog{
		PipelineID:    pipelineID,
		Stages:        make(map[string]StageInfo),
		PipelineNames: make(map[string]string, len(pipelines)),
	}

	var target *hubspot.Pipeline
	for i := range pipelines {
		p := &pipelines[i]
		cat.PipelineNames[p.ID] = p.Label
		if p.ID == pipelineID {
			target = p
		}
	}
	if target == nil {
		return nil, &PipelineNotFoundError{PipelineID: pipelineID}
	}

	cat.PipelineName = target.Label
	for _, s := range target.Stages {
		cat.Stages[s.ID] = StageInfo{
			Label:        s.Label,
			Stage:        rules.Classify(s.Label),
			DisplayOrder: s.DisplayOrder,
		}
	}
	return cat, nil
}

// MapPipelines converts CRM pipelines into model pipelines with every stage
// classified.
func MapPipelines(pipelines []hubspot.Pipeline, rules StageRules) []model.Pipeline {
	if rules == nil {
		rules = DefaultStageRules()
	}
	out := make([]model.Pipeline, 0, len(pipelines))
	for _, p := range pipelines {
		mp := model.Pipeline{
			ID:           p.ID,
			Label:        p.Label,
			DisplayOrder: p.DisplayOrder,
			Stages:       make([]model.PipelineStage, 0, len(p.Stages)),
		}
		for _, s := range p.Stages {
			mp.Stages = append(mp.Stages, model.PipelineStage{
				ID:             s.ID,
				Label:          s.Label,
				DisplayOrder:   s.DisplayOrder,
				CanonicalStage: rules.Classify(s.Label),
			})
		}
		out = append(out, mp)
	}
	return out
}
