package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athene-kg/athene/pkg/types/kg"
)

func runCommand(t *testing.T, serverURL string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--server", serverURL))

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func newAPIServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchCommand_JSONOutput(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/proj-1/entities/search", r.URL.Path)
		assert.Equal(t, "transformer", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode(kg.SearchResult{
			Status: "ok",
			Matches: []kg.ScoredEntity{
				{Entity: &kg.Entity{ID: "e1", CanonicalName: "transformer", Type: kg.EntityConcept}, Score: 0.91},
			},
		})
	})

	stdout, _, err := runCommand(t, srv.URL, "search", "proj-1", "transformer", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"canonical_name": "transformer"`)
}

func TestSearchCommand_TableOutput(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(kg.SearchResult{
			Status: "ok",
			Matches: []kg.ScoredEntity{
				{Entity: &kg.Entity{ID: "e1", CanonicalName: "transformer", Type: kg.EntityConcept}, Score: 0.91},
			},
		})
	})

	stdout, _, err := runCommand(t, srv.URL, "search", "proj-1", "transformer", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, stdout, "NAME")
	assert.Contains(t, stdout, "transformer")
	assert.Contains(t, stdout, "0.910")
}

func TestSimilarCommand_TableOutput(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/proj-1/entities/similar/e1", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(kg.SearchResult{
			Status: "ok",
			Matches: []kg.ScoredEntity{
				{Entity: &kg.Entity{ID: "e2", CanonicalName: "attention", Type: kg.EntityConcept}, Score: 0.84},
			},
		})
	})

	stdout, _, err := runCommand(t, srv.URL, "similar", "proj-1", "e1", "--limit", "3", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, stdout, "attention")
	assert.Contains(t, stdout, "0.840")
}

func TestResolveCommand_Async(t *testing.T) {
	payload := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{"document_ids":["doc-1"]}`), 0o644))

	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/proj-1/resolve", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("async"))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(kg.JobAccepted{JobID: "job-9", Status: "queued"})
	})

	stdout, _, err := runCommand(t, srv.URL, "resolve", "proj-1", "--file", payload, "--async")
	require.NoError(t, err)
	assert.Contains(t, stdout, "job-9")
}

func TestResolveCommand_BadPayload(t *testing.T) {
	payload := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{not json`), 0o644))

	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called")
	})

	_, _, err := runCommand(t, srv.URL, "resolve", "proj-1", "--file", payload)
	assert.Error(t, err)
}

func TestAnalyzeCommand(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/proj-1/analyze", r.URL.Path)
		json.NewEncoder(w).Encode(kg.AnalysisReport{
			Run: &kg.AnalysisRun{ID: "run-1", Status: "completed", ClusterCount: 3},
		})
	})

	stdout, _, err := runCommand(t, srv.URL, "analyze", "proj-1", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "run-1")
}

func TestGapsStatusCommand(t *testing.T) {
	var gotStatus kg.GapStatusUpdate
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotStatus))
		w.WriteHeader(http.StatusOK)
	})

	stdout, _, err := runCommand(t, srv.URL, "gaps", "status", "proj-1", "gap-1", "explored")
	require.NoError(t, err)
	assert.Equal(t, kg.GapExplored, gotStatus.Status)
	assert.Contains(t, stdout, "marked explored")
}

func TestGapsStatusCommand_InvalidStatus(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called")
	})

	_, _, err := runCommand(t, srv.URL, "gaps", "status", "proj-1", "gap-1", "open")
	assert.Error(t, err)
}

func TestTraverseCommand_RequiresStartNodes(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called")
	})

	_, _, err := runCommand(t, srv.URL, "traverse", "proj-1")
	assert.Error(t, err)
}

func TestStatsCommand_TableOutput(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects/proj-1/graph/stats", r.URL.Path)
		json.NewEncoder(w).Encode(kg.GraphStats{
			Status:     "ok",
			ProjectID:  "proj-1",
			NodeCounts: map[kg.EntityType]int{kg.EntityConcept: 4},
			EdgeCounts: map[kg.RelationshipType]int{kg.RelRelatedTo: 2},
			TotalNodes: 4,
			TotalEdges: 2,
		})
	})

	stdout, _, err := runCommand(t, srv.URL, "stats", "proj-1", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, stdout, "CONCEPT")
	assert.Contains(t, stdout, "RELATED_TO")
	assert.Contains(t, stdout, "(total)")
}

func TestMigrateCommand_RequiresDBURL(t *testing.T) {
	t.Setenv("ATHENE_DATABASE_URL", "")
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called")
	})

	_, _, err := runCommand(t, srv.URL, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL")
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := &cobra.Command{Use: "orphan"}
	_, err := GetCLIContext(cmd)
	assert.Error(t, err)
}

func TestFormatTable(t *testing.T) {
	out := FormatTable(
		[]string{"ID", "NAME"},
		[][]string{{"e1", "transformer"}, {"e2", "attention"}},
	)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "--")
	assert.Contains(t, out, "transformer")

	assert.Empty(t, FormatTable(nil, nil))
}
