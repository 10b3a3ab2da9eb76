package normalize

import (
	"strings"

	"github.com/MarcoPoloResearchLab/courtside/internal/shots"
	"github.com/MarcoPoloResearchLab/courtside/internal/store"
)

var legacyStatuses = map[string]string{
	"active":      "active",
	"in_progress": "active",
	"in progress": "active",
	"ongoing":     "active",
	"ended":       "ended",
	"completed":   "ended",
	"complete":    "ended",
	"finished":    "ended",
	"done":        "ended",
}

var legacyTargetTypes = map[string]string{
	"percent":    "percent",
	"percentage": "percent",
	"pct":        "percent",
	"%":          "percent",
	"total":      "total",
	"count":      "total",
	"number":     "total",
}

// DefaultRules repairs the legacy spellings older clients wrote.
func DefaultRules() []Rule {
	return []Rule{
		sessionStatusRule("game_session_status", store.CollectionGameSessions),
		sessionStatusRule("practice_session_status", store.CollectionPracticeSessions),
		shotTypeRule("game_event_shot_type", store.CollectionGameEvents),
		shotTypeRule("practice_entry_shot_type", store.CollectionPracticeEntries),
		booleanRule("game_event_flags", store.CollectionGameEvents, "made", "contested", "is_three"),
		booleanRule("practice_entry_flags", store.CollectionPracticeEntries, "contested", "is_three", "free_throw"),
		enumRule("goal_target_type", store.CollectionGoals, "target_type", legacyTargetTypes),
		enumRule("goal_set_type", store.CollectionGoalSets, "type", map[string]string{
			"practice": "practice",
			"game":     "game",
		}),
	}
}

func sessionStatusRule(name string, collection store.Collection) Rule {
	return Rule{
		Name:       name,
		Collection: collection,
		Matches: func(fields store.Fields) bool {
			status, _ := fields["status"].(string)
			return canonicalStatus(status, fields) != status
		},
		Rewrite: func(fields store.Fields) store.Fields {
			status, _ := fields["status"].(string)
			fields["status"] = canonicalStatus(status, fields)
			return fields
		},
	}
}

// canonicalStatus maps a stored status onto active or ended. An active
// session that already carries an end time is ended.
func canonicalStatus(status string, fields store.Fields) string {
	canonical, ok := legacyStatuses[strings.ToLower(strings.TrimSpace(status))]
	if !ok {
		return status
	}
	if canonical == "active" && fields["ended_at"] != nil {
		return "ended"
	}
	return canonical
}

func shotTypeRule(name string, collection store.Collection) Rule {
	return Rule{
		Name:       name,
		Collection: collection,
		Matches: func(fields store.Fields) bool {
			value, ok := fields["shot_type"].(string)
			if !ok || value == "" {
				return false
			}
			canonical, known := shots.Canonical(value)
			return known && string(canonical) != value
		},
		Rewrite: func(fields store.Fields) store.Fields {
			value, _ := fields["shot_type"].(string)
			if canonical, known := shots.Canonical(value); known {
				fields["shot_type"] = string(canonical)
			}
			return fields
		},
	}
}

func booleanRule(name string, collection store.Collection, keys ...string) Rule {
	return Rule{
		Name:       name,
		Collection: collection,
		Matches: func(fields store.Fields) bool {
			for _, key := range keys {
				if _, isBool := fields[key].(bool); isBool {
					continue
				}
				if _, ok := coerceBool(fields[key]); ok {
					return true
				}
			}
			return false
		},
		Rewrite: func(fields store.Fields) store.Fields {
			for _, key := range keys {
				if parsed, ok := coerceBool(fields[key]); ok {
					fields[key] = parsed
				}
			}
			return fields
		},
	}
}

// coerceBool reads the string and numeric encodings of a boolean.
func coerceBool(value any) (bool, bool) {
	switch typed := value.(type) {
	case bool:
		return typed, true
	case float64:
		if typed == 0 || typed == 1 {
			return typed == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(typed)) {
		case "true", "t", "yes", "y", "1":
			return true, true
		case "false", "f", "no", "n", "0":
			return false, true
		}
	}
	return false, false
}

func enumRule(name string, collection store.Collection, key string, canonical map[string]string) Rule {
	lookup := func(fields store.Fields) (string, string, bool) {
		value, ok := fields[key].(string)
		if !ok {
			return "", "", false
		}
		mapped, known := canonical[strings.ToLower(strings.TrimSpace(value))]
		return value, mapped, known
	}
	return Rule{
		Name:       name,
		Collection: collection,
		Matches: func(fields store.Fields) bool {
			value, mapped, known := lookup(fields)
			return known && mapped != value
		},
		Rewrite: func(fields store.Fields) store.Fields {
			if _, mapped, known := lookup(fields); known {
				fields[key] = mapped
			}
			return fields
		},
	}
}
