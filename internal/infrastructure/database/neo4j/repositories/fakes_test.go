package repositories

import (
	"context"
	"strings"

	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	driver "github.com/athene-kg/athene/internal/infrastructure/database/neo4j"
)

// fakeResult replays a fixed set of records through the driver.Result
// interface.
type fakeResult struct {
	records []*neo4jdrv.Record
	cursor  int
	summary neo4jdrv.ResultSummary
	err     error
}

func (f *fakeResult) Next(context.Context) bool {
	if f.cursor < len(f.records) {
		f.cursor++
		return true
	}
	return false
}

func (f *fakeResult) Record() *neo4jdrv.Record { return f.records[f.cursor-1] }
func (f *fakeResult) Err() error               { return f.err }
func (f *fakeResult) Consume(context.Context) (neo4jdrv.ResultSummary, error) {
	return f.summary, nil
}

// runCall captures one tx.Run invocation for assertion.
type runCall struct {
	cypher string
	params map[string]any
}

// fakeTransaction matches queued results against cypher substrings, in
// order, recording every call.
type fakeTransaction struct {
	results []*fakeResult
	runErr  error
	calls   []runCall
}

func (f *fakeTransaction) Run(_ context.Context, cypher string, params map[string]any) (driver.Result, error) {
	f.calls = append(f.calls, runCall{cypher: cypher, params: params})
	if f.runErr != nil {
		return nil, f.runErr
	}
	if len(f.results) == 0 {
		return &fakeResult{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

// fakeExecutor runs transaction work against a shared fakeTransaction.
type fakeExecutor struct {
	tx      *fakeTransaction
	execErr error
}

func (f *fakeExecutor) ExecuteRead(_ context.Context, work driver.TransactionWork) (interface{}, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	return work(f.tx)
}

func (f *fakeExecutor) ExecuteWrite(_ context.Context, work driver.TransactionWork) (interface{}, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	return work(f.tx)
}

// fakeCounters and fakeSummary override just what the repositories read.
// Unimplemented methods panic via the embedded nil interface, which is fine:
// calling them in a test is itself a bug.
type fakeCounters struct {
	neo4jdrv.Counters
	relationshipsCreated int
}

func (f fakeCounters) RelationshipsCreated() int { return f.relationshipsCreated }

type fakeSummary struct {
	neo4jdrv.ResultSummary
	counters fakeCounters
}

func (f fakeSummary) Counters() neo4jdrv.Counters { return f.counters }

// record builds a *neo4j.Record from alternating key/value pairs.
func record(pairs ...interface{}) *neo4jdrv.Record {
	rec := &neo4jdrv.Record{}
	for i := 0; i+1 < len(pairs); i += 2 {
		rec.Keys = append(rec.Keys, pairs[i].(string))
		rec.Values = append(rec.Values, pairs[i+1])
	}
	return rec
}

// calledWith reports whether any recorded call's cypher contains the
// fragment.
func (f *fakeTransaction) calledWith(fragment string) bool {
	for _, c := range f.calls {
		if strings.Contains(c.cypher, fragment) {
			return true
		}
	}
	return false
}
