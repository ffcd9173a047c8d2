package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"rankarena/internal/domain"
)

const systemPrompt = `You are a rigorous evaluation assistant. Given a task description and a list of candidates, pick the single candidate that best satisfies the task.

Respond with JSON only, in this exact shape:
{"best_candidate_id": "<id>", "reasoning": "<comparative analysis explaining the choice>"}

The best_candidate_id must be one of the candidate ids given. Base the reasoning on the candidates' stated attributes, not outside knowledge.`

const userPromptTemplate = `Task description:
%s

Candidates:
%s`

// candidatesText renders the candidate list for the prompt. When the full
// rendering exceeds the character budget, description fields are truncated;
// everything else passes through untouched since info is judge-owned.
func candidatesText(candidates []domain.Candidate, maxChars int) string {
	full := renderCandidates(candidates, 0)
	if maxChars <= 0 || len(full) <= maxChars {
		return full
	}
	return renderCandidates(candidates, 200)
}

func renderCandidates(candidates []domain.Candidate, descLimit int) string {
	parts := make([]string, 0, len(candidates))
	for idx, cand := range candidates {
		info := cand.Info
		if descLimit > 0 {
			info = truncateDescription(info, descLimit)
		}
		infoJSON, err := json.Marshal(info)
		if err != nil {
			infoJSON = []byte("{}")
		}
		parts = append(parts, fmt.Sprintf("%d. ID: %s\n   Name: %s\n   Info: %s", idx+1, cand.ID, cand.Name, infoJSON))
	}
	return strings.Join(parts, "\n\n")
}

func truncateDescription(info map[string]any, limit int) map[string]any {
	desc, ok := info["description"].(string)
	if !ok || len(desc) <= limit {
		return info
	}
	out := make(map[string]any, len(info))
	for k, v := range info {
		out[k] = v
	}
	out["description"] = desc[:limit] + "...(truncated)"
	return out
}
