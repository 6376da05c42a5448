package main

import (
	"fmt"
	"strings"

	"github.com/buildline/sitesync/realtime"
)

// parseWatchList parses the -watch flag. Entries are comma separated, each of
// the form [schema.]table[/EVENT][:column=value[&column=value...]], e.g.
// "tasks,public.projects/UPDATE:status=open".
func parseWatchList(spec string) ([]realtime.SubscriptionConfig, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var watches []realtime.SubscriptionConfig
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		config, err := parseWatch(entry)
		if err != nil {
			return nil, fmt.Errorf("watch %q: %w", entry, err)
		}
		watches = append(watches, config)
	}
	return watches, nil
}

func parseWatch(entry string) (realtime.SubscriptionConfig, error) {
	var config realtime.SubscriptionConfig

	target, filters, hasFilter := strings.Cut(entry, ":")
	target, event, hasEvent := strings.Cut(target, "/")
	if hasEvent {
		config.Event = realtime.EventType(strings.ToUpper(event))
	}
	if schema, table, ok := strings.Cut(target, "."); ok {
		config.Schema, config.Table = schema, table
	} else {
		config.Table = target
	}

	if hasFilter {
		config.Filter = make(map[string]any)
		for _, clause := range strings.Split(filters, "&") {
			column, value, ok := strings.Cut(clause, "=")
			if !ok || column == "" {
				return config, fmt.Errorf("invalid filter clause %q", clause)
			}
			config.Filter[column] = value
		}
	}

	config = config.Normalize()
	return config, config.Validate()
}
