package ai

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/callcoach/pkg/models"
)

// SystemPrompt frames every analysis request. The scorecard schema here is what ParseScorecard reads.
const SystemPrompt = `You are a sales coach reviewing a recorded practice call between a sales rep and an AI prospect.
Score the rep, not the prospect. Respond with a single JSON object and nothing else, using this shape:
{
  "overall_score": <0-100>,
  "categories": {
    "<category>": {"score": <0-100>, "feedback": "<one or two sentences>",
                   "key_moments": [{"timestamp": "<mm:ss>", "quote": "<rep quote>", "insight": "<why it matters>"}]}
  },
  "strengths": ["<strength>"],
  "improvements": ["<improvement>"],
  "key_moment": {"timestamp": "<mm:ss>", "quote": "<quote>", "insight": "<insight>"},
  "summary": "<three sentences at most>",
  "next_steps": ["<concrete practice step>"]
}
Use the categories discovery, rapport, objection_handling, value_proposition and closing unless the organization's guidelines name others.`

// BuildPrompt renders the user turn for one analysis request.
func BuildPrompt(req models.AnalysisRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Organization: %s\n", req.Organization.Name)
	if req.Organization.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", req.Organization.Industry)
	}
	if req.Organization.ProductContext != "" {
		fmt.Fprintf(&b, "Product: %s\n", req.Organization.ProductContext)
	}
	if req.Organization.Guidelines != "" {
		fmt.Fprintf(&b, "Sales guidelines: %s\n", req.Organization.Guidelines)
	}

	if sc := req.Scenario; sc != nil {
		fmt.Fprintf(&b, "\nScenario: %s\n", sc.Name)
		if sc.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", sc.Description)
		}
		if sc.Persona != "" {
			fmt.Fprintf(&b, "Prospect persona: %s\n", sc.Persona)
		}
		if len(sc.Objectives) > 0 {
			b.WriteString("Objectives:\n")
			for _, o := range sc.Objectives {
				fmt.Fprintf(&b, "- %s\n", o)
			}
		}
	} else {
		b.WriteString("\nScenario: free-form practice\n")
	}

	b.WriteString("\nTranscript:\n")
	b.WriteString(truncateString(req.Transcript, MaxTranscriptBytes))
	b.WriteString("\n")
	return b.String()
}

// MaxTranscriptBytes bounds the transcript sent to a provider.
const MaxTranscriptBytes = 60000
