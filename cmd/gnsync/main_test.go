package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphnode/gnsync/internal/store/schema"
	"github.com/graphnode/gnsync/internal/ui"
)

type cliEnv struct {
	t   *testing.T
	dir string
}

// setupCLI isolates config, dotenv and database under a temp directory.
func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	ui.SetColor(false)

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("GNSYNC_DB_PATH", filepath.Join(dir, "gnsync.db"))
	t.Setenv("GNSYNC_LOG_LEVEL", "error")
	t.Setenv("GNSYNC_REMOTE_BASE_URL", "")
	return &cliEnv{t: t, dir: dir}
}

// run executes the root command and returns its stdout.
func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	defer resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--env-file", filepath.Join(e.dir, "none.env")}, args...))

	err := rootCmd.Execute()
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "gnsync %s", strings.Join(args, " "))
	return out
}

// resetFlags restores every flag to its default so runs do not leak state.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func (e *cliEnv) outboxOps() []*schema.Op {
	e.t.Helper()
	var ops []*schema.Op
	require.NoError(e.t, json.Unmarshal([]byte(e.mustRun("outbox", "list", "-o", "json")), &ops))
	return ops
}

func createdID(t *testing.T, out string) string {
	t.Helper()
	fields := strings.Fields(out)
	require.GreaterOrEqual(t, len(fields), 4, out)
	return fields[3]
}

func TestNoteLifecycle(t *testing.T) {
	env := setupCLI(t)

	id := createdID(t, env.mustRun("note", "create", "# Groceries\nmilk"))
	env.mustRun("note", "edit", id, "# Groceries\nmilk, eggs")

	ops := env.outboxOps()
	require.Len(t, ops, 1, "edit merges into the pending create")
	assert.Equal(t, schema.OpNoteCreate, ops[0].Type)
	assert.Equal(t, "# Groceries\nmilk, eggs", ops[0].Payload["content"])

	show := env.mustRun("note", "show", id)
	assert.Contains(t, show, "Groceries")
	assert.Contains(t, show, "note.create")

	list := env.mustRun("note", "list")
	assert.Contains(t, list, id)

	env.mustRun("note", "delete", id)
	ops = env.outboxOps()
	require.Len(t, ops, 1)
	assert.Equal(t, schema.OpNoteDelete, ops[0].Type)

	_, err := env.run("note", "show", id)
	assert.Error(t, err)
}

func TestNoteMoveAndFolders(t *testing.T) {
	env := setupCLI(t)

	work := createdID(t, env.mustRun("folder", "create", "Work"))
	sub := createdID(t, env.mustRun("folder", "create", "Projects", "--parent", work))
	note := createdID(t, env.mustRun("note", "create", "plan"))

	env.mustRun("note", "move", note, sub)
	_, err := env.run("note", "move", note)
	assert.Error(t, err, "folder id or --root is required")

	inSub := env.mustRun("note", "list", "--folder", sub, "-o", "json")
	assert.Contains(t, inSub, note)

	_, err = env.run("folder", "move", work, sub)
	assert.Error(t, err, "moving a folder under its descendant is a cycle")

	tree := env.mustRun("folder", "list")
	assert.Contains(t, tree, "Work")
	assert.Contains(t, tree, "  Projects")

	out := env.mustRun("folder", "delete", work)
	assert.Contains(t, out, "Deleted 2 folder(s); 1 note(s) moved to the root")

	root := env.mustRun("note", "list", "--root", "-o", "json")
	assert.Contains(t, root, note)
}

func TestThreadCommands(t *testing.T) {
	env := setupCLI(t)

	id := createdID(t, env.mustRun("thread", "create", "Planning"))
	env.mustRun("thread", "append", id, "where do we start?")
	env.mustRun("thread", "append", id, "with the outbox", "--role", "assistant")

	assert.Empty(t, env.outboxOps(), "create and append are local only")

	found := env.mustRun("thread", "search", "OUTBOX", "-o", "json")
	assert.Contains(t, found, id)

	env.mustRun("thread", "title", id, "Kickoff")
	ops := env.outboxOps()
	require.Len(t, ops, 1)
	assert.Equal(t, schema.OpThreadUpdate, ops[0].Type)

	show := env.mustRun("thread", "show", id)
	assert.Contains(t, show, "Kickoff")
	assert.Contains(t, show, "assistant")

	_, err := env.run("thread", "append", id, "x", "--role", "robot")
	assert.Error(t, err)
}

type recordingRemote struct {
	*httptest.Server
	mu       sync.Mutex
	requests []string
}

func newRecordingRemote(t *testing.T) *recordingRemote {
	t.Helper()
	r := &recordingRemote{}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.requests = append(r.requests, req.Method+" "+req.URL.Path)
		r.mu.Unlock()

		if req.Method == http.MethodGet && req.URL.Path == "/notes" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, "[]")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *recordingRemote) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requests...)
}

func TestSyncDeliversQueue(t *testing.T) {
	env := setupCLI(t)
	remote := newRecordingRemote(t)

	_, err := env.run("sync")
	assert.Error(t, err, "sync needs a remote")

	note := createdID(t, env.mustRun("note", "create", "hello"))
	thread := createdID(t, env.mustRun("thread", "create", "chat"))
	env.mustRun("thread", "delete", thread)

	out := env.mustRun("sync", "--remote", remote.URL)
	assert.Contains(t, out, "Sent:      2/2")
	assert.Empty(t, env.outboxOps())

	assert.Equal(t, []string{
		"POST /notes",
		"DELETE /conversations/" + thread,
		"GET /notes",
	}, remote.Requests())

	status := env.mustRun("status", "--remote", remote.URL)
	assert.Contains(t, status, "reachable")
	assert.Contains(t, status, "notes:    1")

	notes := env.mustRun("note", "list", "-o", "json")
	assert.Contains(t, notes, note)
}

func TestImportExportAndReset(t *testing.T) {
	env := setupCLI(t)

	env.mustRun("note", "create", "# Exported note")
	path := filepath.Join(env.dir, "backup.jsonl")
	out := env.mustRun("export", path)
	assert.Contains(t, out, "1 note(s)")

	out = env.mustRun("reset", "--yes")
	assert.Contains(t, out, "1 queued operation(s) dropped")
	assert.Contains(t, env.mustRun("note", "list"), "No notes")

	out = env.mustRun("import", path, "--dry-run")
	assert.Contains(t, out, "Would import 0 folder(s), 1 note(s)")
	assert.Contains(t, env.mustRun("note", "list"), "No notes")

	env.mustRun("import", path)
	assert.Contains(t, env.mustRun("note", "list"), "Exported note")
	assert.Empty(t, env.outboxOps(), "imports queue nothing")
}

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLI(t)
	path := filepath.Join(env.dir, "gnsync.toml")

	env.mustRun("config", "init", "--config", path)
	_, err := os.Stat(path)
	require.NoError(t, err)

	_, err = env.run("config", "init", "--config", path)
	assert.Error(t, err, "existing file is kept without --force")

	t.Setenv("GNSYNC_REMOTE_TOKEN", "secret-token")
	shown := env.mustRun("config", "show", "--config", path)
	assert.Contains(t, shown, "batch_limit: 20")
	assert.NotContains(t, shown, "secret-token")
}

func TestOutboxRetryAndPurge(t *testing.T) {
	env := setupCLI(t)

	env.mustRun("note", "create", "queued")
	ops := env.outboxOps()
	require.Len(t, ops, 1)

	assert.Contains(t, env.mustRun("outbox", "retry"), "1 operation(s) due now")
	_, err := env.run("outbox", "retry", "missing")
	assert.Error(t, err)

	stats := env.mustRun("outbox", "stats", "-o", "yaml")
	assert.Contains(t, stats, "pending: 1")

	env.mustRun("outbox", "purge", ops[0].OpID)
	assert.Empty(t, env.outboxOps())

	_, err = env.run("outbox", "list", "--type", "folder.create")
	assert.Error(t, err)
}

func TestBench(t *testing.T) {
	e := setupCLI(t)

	out := e.mustRun("bench", "--editors", "3", "--notes", "6", "--folders", "2", "--edits", "4", "--batch", "4", "-o", "json")

	var report struct {
		Edits   int `json:"edits"`
		Latency struct {
			TotalCalls int `json:"totalCalls"`
			Errors     int `json:"errors"`
		} `json:"latency"`
		Drain struct {
			Delivered int `json:"delivered"`
			Cycles    int `json:"cycles"`
		} `json:"drain"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 12, report.Edits)
	assert.Equal(t, 12, report.Latency.TotalCalls)
	assert.Zero(t, report.Latency.Errors)
	assert.Equal(t, 6, report.Drain.Delivered)
	assert.Equal(t, 3, report.Drain.Cycles)

	assert.Empty(t, e.outboxOps(), "bench never touches the configured database")

	_, err := e.run("bench", "--editors", "0")
	require.Error(t, err)
}
