// Package fightcard exposes UFC fight-card lookups as agent tools.
package fightcard

import (
	"context"
	"fmt"

	"github.com/fightiq/octagon/pkg/llm"
	"github.com/fightiq/octagon/pkg/tools"
	"github.com/fightiq/octagon/pkg/ufcstats"
)

// maxEventsCap bounds how far ahead a single lookup may scan; matches the
// guidance given to the model in the selection prompt.
const maxEventsCap = 10

// StatsSource is the slice of ufcstats.Client the tools need.
type StatsSource interface {
	UpcomingEvents(ctx context.Context, maxEvents int) ([]ufcstats.Event, error)
	EventFights(ctx context.Context, eventURL string) ([]ufcstats.Fight, error)
	Matchup(ctx context.Context, fightURL string) (ufcstats.FighterStats, ufcstats.FighterStats, error)
}

// RegisterAll registers the fight-card tool set on reg.
func RegisterAll(reg *tools.Registry, source StatsSource) error {
	matchups := llm.Tool{
		Name:        "get_upcoming_matchups",
		Description: "Get upcoming UFC events with their fight cards. Use max_events to look beyond the next event, for example when the user asks about title fights or a fighter who may not appear on the immediate card. Set include_stats to attach per-fighter comparison stats and recent fight history.",
		Params: []llm.Param{
			{Name: "max_events", Type: llm.TypeInteger, Description: "How many upcoming events to fetch, 1 to 10. Defaults to 1."},
			{Name: "include_stats", Type: llm.TypeBoolean, Description: "Attach fighter comparison stats and recent results to each fight. Slower. Defaults to false."},
		},
	}
	if err := reg.Register(matchups, func(ctx context.Context, args map[string]any) (any, error) {
		return getUpcomingMatchups(ctx, source, args)
	}); err != nil {
		return err
	}

	eventFights := llm.Tool{
		Name:        "get_upcoming_event_fights",
		Description: "Get the full fight card for the next upcoming UFC event.",
	}
	return reg.Register(eventFights, func(ctx context.Context, _ map[string]any) (any, error) {
		return getUpcomingEventFights(ctx, source)
	})
}

func getUpcomingMatchups(ctx context.Context, source StatsSource, args map[string]any) (any, error) {
	maxEvents := 1
	if v, ok := args["max_events"].(int); ok && v > 0 {
		maxEvents = v
	}
	if maxEvents > maxEventsCap {
		maxEvents = maxEventsCap
	}
	includeStats, _ := args["include_stats"].(bool)

	events, err := source.UpcomingEvents(ctx, maxEvents)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return []ufcstats.Event{}, nil
	}
	for i := range events {
		fights, err := source.EventFights(ctx, events[i].URL)
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", events[i].Name, err)
		}
		if includeStats {
			for j := range fights {
				one, two, err := source.Matchup(ctx, fights[j].URL)
				if err != nil {
					return nil, fmt.Errorf("fight %s vs %s: %w", fights[j].Fighter1, fights[j].Fighter2, err)
				}
				fights[j].Fighter1Stats = &one
				fights[j].Fighter2Stats = &two
			}
		}
		events[i].Fights = fights
	}
	return events, nil
}

func getUpcomingEventFights(ctx context.Context, source StatsSource) (any, error) {
	events, err := source.UpcomingEvents(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return []ufcstats.Fight{}, nil
	}
	return source.EventFights(ctx, events[0].URL)
}
