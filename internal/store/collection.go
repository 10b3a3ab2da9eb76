package store

import "fmt"

// Collection names a logical table inside the local mirror.
type Collection string

const (
	CollectionGameSessions     Collection = "game.sessions"
	CollectionGameEvents       Collection = "game.events"
	CollectionPracticeSessions Collection = "practice.sessions"
	CollectionPracticeEntries  Collection = "practice.entries"
	CollectionGoalSets         Collection = "goal_sets"
	CollectionGoals            Collection = "goals"
)

var remoteTables = map[Collection]string{
	CollectionGameSessions:     "game_sessions",
	CollectionGameEvents:       "game_events",
	CollectionPracticeSessions: "practice_sessions",
	CollectionPracticeEntries:  "practice_entries",
	CollectionGoalSets:         "goal_sets",
	CollectionGoals:            "goals",
}

// Collections lists every collection in sync order: parents before children.
func Collections() []Collection {
	return []Collection{
		CollectionGameSessions,
		CollectionGameEvents,
		CollectionPracticeSessions,
		CollectionPracticeEntries,
		CollectionGoalSets,
		CollectionGoals,
	}
}

// String returns the collection name.
func (c Collection) String() string {
	return string(c)
}

// Valid reports whether the collection is one of the known collections.
func (c Collection) Valid() bool {
	_, ok := remoteTables[c]
	return ok
}

// RemoteTable returns the remote table backing the collection.
func (c Collection) RemoteTable() string {
	return remoteTables[c]
}

// CollectionForTable resolves a remote table name to its collection.
func CollectionForTable(table string) (Collection, error) {
	for collection, name := range remoteTables {
		if name == table {
			return collection, nil
		}
	}
	return "", fmt.Errorf("%w: table %q", ErrUnknownCollection, table)
}
