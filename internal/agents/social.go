// Package agents assembles the built-in specialized agents: their
// instructions, skills, and tool registries over the external
// collaborators.
package agents

import (
	"context"
	"fmt"

	"github.com/gatherlabs/gather/pkg/agent"
	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/graph"
	"github.com/gatherlabs/gather/pkg/reasoning"
	"github.com/gatherlabs/gather/pkg/tool"
)

const socialInstruction = `You are the social context agent. You answer questions about
people and their relationships using the social graph tools. Answer
only from tool results; say so when the graph has no answer.`

// NewSocialContext builds the agent that answers relationship
// questions from the social graph.
func NewSocialContext(reasoner *reasoning.Client, querier graph.Querier, opts ...agent.Option) (*agent.Agent, error) {
	reg := tool.NewRegistry()

	err := reg.Register(tool.Descriptor{
		Name:        "graph_related",
		Description: "List every relation touching a person or place.",
		Params: []tool.Param{
			{Name: "entity", Type: "string", Description: "name of the person or place", Required: true},
		},
		Returns: "list of relations",
	}, func(ctx context.Context, args map[string]any) (any, error) {
		entity, _ := args["entity"].(string)
		return querier.Related(ctx, entity)
	})
	if err != nil {
		return nil, fmt.Errorf("register graph_related: %w", err)
	}

	err = reg.Register(tool.Descriptor{
		Name:        "graph_between",
		Description: "List relations connecting two named people or places.",
		Params: []tool.Param{
			{Name: "a", Type: "string", Description: "first name", Required: true},
			{Name: "b", Type: "string", Description: "second name", Required: true},
		},
		Returns: "list of relations",
	}, func(ctx context.Context, args map[string]any) (any, error) {
		a, _ := args["a"].(string)
		b, _ := args["b"].(string)
		return querier.Between(ctx, a, b)
	})
	if err != nil {
		return nil, fmt.Errorf("register graph_between: %w", err)
	}

	opts = append([]agent.Option{
		agent.WithDescription("Knows who knows whom and how people are connected."),
		agent.WithInstruction(socialInstruction),
		agent.WithSkills(
			directory.Skill{
				ID:          "relationships",
				Name:        "relationship lookup",
				Description: "Find how people are connected in the social graph.",
				Tags:        []string{"social", "graph", "people"},
				Examples:    []string{"how does ana know ben?", "who are cleo's coworkers?"},
			},
		),
	}, opts...)
	return agent.New("social-context", reasoner, reg, opts...), nil
}
