package syncer

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/courtside/internal/remote"
)

// fakeRemote is an in-memory remote that settles upserts last-writer-wins
// and round-trips rows through JSON like the wire does.
type fakeRemote struct {
	mu          sync.Mutex
	tables      map[string]map[string]remote.Row
	upserts     int
	deletes     int
	inFlight    int
	maxInFlight int
	upsertHook  func(row remote.Row)
	upsertErr   error
	selectErrs  map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{tables: map[string]map[string]remote.Row{}, selectErrs: map[string]error{}}
}

func wire(row remote.Row) (remote.Row, error) {
	encoded, err := json.Marshal(row)
	if err != nil {
		return remote.Row{}, err
	}
	var decoded remote.Row
	err = json.Unmarshal(encoded, &decoded)
	return decoded, err
}

func (f *fakeRemote) seed(table string, row remote.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables[table] == nil {
		f.tables[table] = map[string]remote.Row{}
	}
	f.tables[table][row.ID] = row
}

func (f *fakeRemote) row(table, id string) (remote.Row, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.tables[table][id]
	return row, ok
}

func (f *fakeRemote) counts() (upserts, deletes, maxInFlight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts, f.deletes, f.maxInFlight
}

func (f *fakeRemote) Select(_ context.Context, table string, query remote.Query) ([]remote.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.selectErrs[table]; err != nil {
		return nil, err
	}
	rows := make([]remote.Row, 0, len(f.tables[table]))
	for _, row := range f.tables[table] {
		if query.UpdatedSince != nil && row.UpdatedAtMillis < *query.UpdatedSince {
			continue
		}
		copied, err := wire(row)
		if err != nil {
			return nil, err
		}
		rows = append(rows, copied)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UpdatedAtMillis == rows[j].UpdatedAtMillis {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].UpdatedAtMillis < rows[j].UpdatedAtMillis
	})
	if query.Limit > 0 && len(rows) > query.Limit {
		rows = rows[:query.Limit]
	}
	return rows, nil
}

func (f *fakeRemote) Upsert(_ context.Context, table string, row remote.Row) (remote.UpsertOutcome, error) {
	f.mu.Lock()
	f.upserts++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	hook, failure := f.upsertHook, f.upsertErr
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if hook != nil {
		hook(row)
	}
	if failure != nil {
		return remote.UpsertOutcome{}, failure
	}
	incoming, err := wire(row)
	if err != nil {
		return remote.UpsertOutcome{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables[table] == nil {
		f.tables[table] = map[string]remote.Row{}
	}
	if existing, ok := f.tables[table][incoming.ID]; ok && existing.UpdatedAtMillis > incoming.UpdatedAtMillis {
		return remote.UpsertOutcome{Accepted: false, Row: existing}, nil
	}
	f.tables[table][incoming.ID] = incoming
	return remote.UpsertOutcome{Accepted: true, Row: incoming}, nil
}

func (f *fakeRemote) Delete(_ context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.tables[table], id)
	return nil
}
