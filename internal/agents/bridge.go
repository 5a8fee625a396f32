package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/gatherlabs/gather/pkg/agent"
	"github.com/gatherlabs/gather/pkg/directory"
	"github.com/gatherlabs/gather/pkg/events"
	"github.com/gatherlabs/gather/pkg/reasoning"
	"github.com/gatherlabs/gather/pkg/tool"
)

const bridgeInstruction = `You are the platform bridge agent. You manage events on the
gathering platform through the event tools. Confirm every mutation by
reporting the event id in the final answer.`

// NewPlatformBridge builds the agent that manages events on the
// external platform.
func NewPlatformBridge(reasoner *reasoning.Client, svc events.Service, opts ...agent.Option) (*agent.Agent, error) {
	reg := tool.NewRegistry()

	err := reg.Register(tool.Descriptor{
		Name:        "create_event",
		Description: "Create a new event on the platform.",
		Params: []tool.Param{
			{Name: "title", Type: "string", Description: "event title", Required: true},
			{Name: "starts_at", Type: "string", Description: "start time, RFC 3339", Required: true},
			{Name: "location", Type: "string", Description: "where the event happens"},
			{Name: "description", Type: "string", Description: "what the event is about"},
			{Name: "attendees", Type: "array", Description: "names of invited attendees"},
		},
		Returns: "the created event with its id",
	}, func(ctx context.Context, args map[string]any) (any, error) {
		event, err := eventFromArgs(args)
		if err != nil {
			return nil, err
		}
		return svc.Create(ctx, event)
	})
	if err != nil {
		return nil, fmt.Errorf("register create_event: %w", err)
	}

	err = reg.Register(tool.Descriptor{
		Name:        "get_event",
		Description: "Fetch one event by id.",
		Params: []tool.Param{
			{Name: "id", Type: "string", Description: "event id", Required: true},
		},
		Returns: "the event",
	}, func(ctx context.Context, args map[string]any) (any, error) {
		id, _ := args["id"].(string)
		return svc.Get(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("register get_event: %w", err)
	}

	err = reg.Register(tool.Descriptor{
		Name:        "list_events",
		Description: "List all visible events ordered by start time.",
		Returns:     "list of events",
	}, func(ctx context.Context, _ map[string]any) (any, error) {
		return svc.List(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("register list_events: %w", err)
	}

	err = reg.Register(tool.Descriptor{
		Name:        "update_event",
		Description: "Replace an existing event. Unset fields are cleared.",
		Params: []tool.Param{
			{Name: "id", Type: "string", Description: "event id", Required: true},
			{Name: "title", Type: "string", Description: "event title", Required: true},
			{Name: "starts_at", Type: "string", Description: "start time, RFC 3339", Required: true},
			{Name: "location", Type: "string", Description: "where the event happens"},
			{Name: "description", Type: "string", Description: "what the event is about"},
			{Name: "attendees", Type: "array", Description: "names of invited attendees"},
		},
		Returns: "the updated event",
	}, func(ctx context.Context, args map[string]any) (any, error) {
		event, err := eventFromArgs(args)
		if err != nil {
			return nil, err
		}
		event.ID, _ = args["id"].(string)
		return svc.Update(ctx, event)
	})
	if err != nil {
		return nil, fmt.Errorf("register update_event: %w", err)
	}

	err = reg.Register(tool.Descriptor{
		Name:        "delete_event",
		Description: "Delete an event by id.",
		Params: []tool.Param{
			{Name: "id", Type: "string", Description: "event id", Required: true},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		id, _ := args["id"].(string)
		if err := svc.Delete(ctx, id); err != nil {
			return nil, err
		}
		return "deleted " + id, nil
	})
	if err != nil {
		return nil, fmt.Errorf("register delete_event: %w", err)
	}

	opts = append([]agent.Option{
		agent.WithDescription("Creates and maintains events on the gathering platform."),
		agent.WithInstruction(bridgeInstruction),
		agent.WithSkills(
			directory.Skill{
				ID:          "event-crud",
				Name:        "event management",
				Description: "Create, update, list, and delete platform events.",
				Tags:        []string{"events", "calendar", "platform"},
				Examples:    []string{"create a dinner event on friday", "move the hike to sunday"},
			},
		),
	}, opts...)
	return agent.New("platform-bridge", reasoner, reg, opts...), nil
}

func eventFromArgs(args map[string]any) (events.Event, error) {
	title, _ := args["title"].(string)
	rawStart, _ := args["starts_at"].(string)
	startsAt, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		return events.Event{}, fmt.Errorf("starts_at is not RFC 3339: %w", err)
	}
	event := events.Event{Title: title, StartsAt: startsAt}
	event.Location, _ = args["location"].(string)
	event.Description, _ = args["description"].(string)
	if raw, ok := args["attendees"].([]any); ok {
		for _, item := range raw {
			if name, ok := item.(string); ok {
				event.Attendees = append(event.Attendees, name)
			}
		}
	}
	return event, nil
}
