package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"

	"rankarena/internal/domain"
	"rankarena/internal/judge"
)

const generatorSystemPrompt = `You design evaluation scenarios for head-to-head comparison tests. Given a list of candidates, produce diverse test prompts that each carry a concrete situation.

Rules:
1. Never produce generic "which is better" questions.
2. Every prompt must combine a user identity, a core need, and a specific constraint or preference.
3. Vary the user population (novice/expert/student/professional), environment (home/office/outdoors), and goal (value/performance/durability).
4. Write prompts in the first person, as a real user would ask.`

const generatorUserTemplate = `Generate %d concrete test scenarios for the following candidates:

%s

%sReturn JSON only, in this shape:
{"scenarios": [{"scenario_id": "s_1", "description": "..."}]}`

// Generator produces scenario descriptions for a batch run. The engine only
// consumes (scenario_id, description) pairs; how they are produced is this
// package's concern.
type Generator struct {
	Completer judge.Completer
}

// Generate asks the model for count scenarios. When the model output cannot
// be obtained or parsed, templated fallback scenarios are returned instead
// so a batch run never dies at the generation step.
func (g Generator) Generate(ctx context.Context, candidates []domain.Candidate, count int, customQuery string) []domain.Scenario {
	log := clog.FromContext(ctx)
	var focus string
	if strings.TrimSpace(customQuery) != "" {
		focus = fmt.Sprintf("Focus every scenario on this theme: %s\n\n", customQuery)
	}
	user := fmt.Sprintf(generatorUserTemplate, count, candidateSummary(candidates), focus)

	raw, err := g.Completer.Complete(ctx, generatorSystemPrompt, user)
	if err != nil {
		log.With("error", err.Error()).Warn("scenario generation failed, using fallback scenarios")
		return Fallback(count)
	}
	scenarios, err := parseScenarios(raw)
	if err != nil || len(scenarios) == 0 {
		log.Warn("scenario generation returned unparseable output, using fallback scenarios")
		return Fallback(count)
	}
	if len(scenarios) > count {
		scenarios = scenarios[:count]
	}
	return scenarios
}

// Fallback returns templated scenarios for when generation is unavailable.
func Fallback(count int) []domain.Scenario {
	out := make([]domain.Scenario, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, domain.Scenario{
			ScenarioID:  fmt.Sprintf("fallback_%d", i+1),
			Description: fmt.Sprintf("General comparison scenario %d: weigh the strengths and weaknesses of each option and pick the best overall fit.", i+1),
		})
	}
	return out
}

func parseScenarios(raw string) ([]domain.Scenario, error) {
	var data struct {
		Scenarios []struct {
			ScenarioID  string `json:"scenario_id"`
			Description string `json:"description"`
		} `json:"scenarios"`
	}
	if err := json.Unmarshal([]byte(judge.StripFences(raw)), &data); err != nil {
		return nil, err
	}
	out := make([]domain.Scenario, 0, len(data.Scenarios))
	for _, s := range data.Scenarios {
		if strings.TrimSpace(s.Description) == "" {
			continue
		}
		id := s.ScenarioID
		if id == "" {
			id = fmt.Sprintf("s_%d", len(out)+1)
		}
		out = append(out, domain.Scenario{ScenarioID: id, Description: s.Description})
	}
	return out, nil
}

// candidateSummary keeps generation prompts short: names plus a clipped
// description, never the full info payload.
func candidateSummary(candidates []domain.Candidate) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Name)
		if desc, ok := c.Info["description"].(string); ok && desc != "" {
			if len(desc) > 200 {
				desc = desc[:200] + "..."
			}
			fmt.Fprintf(&b, "   description: %s\n", desc)
		}
	}
	return b.String()
}
