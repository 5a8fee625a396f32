package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/gatherlabs/gather/pkg/agent"
	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/reasoning"
	"github.com/gatherlabs/gather/pkg/tool"
)

const planningInstruction = `You are the planning agent. Break the delegated goal into a short
ordered checklist with concrete dates and owners where known. Use the
current_time tool when the plan depends on today's date. Return the
checklist as the final answer.`

// NewPlanning builds the agent that turns goals into ordered plans.
func NewPlanning(reasoner *reasoning.Client, opts ...agent.Option) (*agent.Agent, error) {
	reg := tool.NewRegistry()

	err := reg.Register(tool.Descriptor{
		Name:        "current_time",
		Description: "Current date and time in UTC (RFC 3339).",
		Returns:     "timestamp string",
	}, func(_ context.Context, _ map[string]any) (any, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	})
	if err != nil {
		return nil, fmt.Errorf("register current_time: %w", err)
	}

	opts = append([]agent.Option{
		agent.WithDescription("Breaks goals into ordered, dated steps."),
		agent.WithInstruction(planningInstruction),
		agent.WithSkills(
			directory.Skill{
				ID:          "plan",
				Name:        "planning",
				Description: "Turn a goal into an ordered checklist of steps.",
				Tags:        []string{"plan", "schedule", "steps"},
				Examples:    []string{"plan a birthday dinner for eight", "schedule a weekend hike"},
			},
		),
	}, opts...)
	return agent.New("planning", reasoner, reg, opts...), nil
}
