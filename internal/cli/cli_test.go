package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/journal/internal/appstate"
	"github.com/mesh-intelligence/journal/internal/remote"
	"github.com/mesh-intelligence/journal/pkg/types"
)

const testToken = "qr_AbCdEfGhIjKlMnOpQrSt12"

// harness runs commands in-process against temporary config and data dirs.
type harness struct {
	t         *testing.T
	configDir string
	dataDir   string
	pins      []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	for _, key := range []string{"JOURNAL_CONFIG_DIR", "JOURNAL_DATA_DIR", "JOURNAL_SYNC_ENDPOINT"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	return &harness{
		t:         t,
		configDir: filepath.Join(dir, "config"),
		dataDir:   filepath.Join(dir, "data"),
	}
}

// readPIN hands out the queued PINs in order.
func (h *harness) readPIN(_ io.Writer, _ string) (string, error) {
	if len(h.pins) == 0 {
		return "", errors.New("unexpected PIN prompt")
	}
	pin := h.pins[0]
	h.pins = h.pins[1:]
	return pin, nil
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	a := &app{readPIN: h.readPIN}
	root := newRootCmd(a)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config-dir", h.configDir, "--data-dir", h.dataDir}, args...))
	err := root.ExecuteContext(context.Background())
	require.NoError(h.t, a.close(context.Background()))
	return out.String(), err
}

// runJSON runs args with --json and decodes the output into v.
func (h *harness) runJSON(v any, args ...string) {
	h.t.Helper()
	out, err := h.run(append([]string{"--json"}, args...)...)
	require.NoError(h.t, err, out)
	require.NoError(h.t, json.Unmarshal([]byte(out), v), out)
}

func (h *harness) startProtocol() string {
	h.t.Helper()
	var bottle types.Bottle
	h.runJSON(&bottle, "scan", testToken, "--product-id", "calm-01", "--product-name", "Calm")
	var protocol types.Protocol
	h.runJSON(&protocol, "protocol", "start", bottle.ID, "--days", "30")
	return protocol.ID
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("version")
	require.NoError(t, err)
	assert.Contains(t, out, "journal v"+Version)
	assert.NoDirExists(t, h.configDir, "version must not create config")
}

func TestInitCreatesConfigAndDatabase(t *testing.T) {
	h := newHarness(t)
	var res initResult
	h.runJSON(&res, "init")

	assert.Equal(t, h.dataDir, res.DataDir)
	assert.Positive(t, res.Schema)
	assert.FileExists(t, filepath.Join(h.configDir, "config.yaml"))
	assert.FileExists(t, filepath.Join(h.configDir, "keystore.json"))
	assert.FileExists(t, filepath.Join(h.dataDir, "journal.db"))

	// A second init has nothing left to migrate.
	h.runJSON(&res, "init")
	assert.Zero(t, res.Migrated)
}

func TestScanAndList(t *testing.T) {
	h := newHarness(t)
	var first, again types.Bottle
	h.runJSON(&first, "scan", "https://ops.originalpsilly.com/b/"+testToken, "--product-id", "calm-01", "--product-name", "Calm")
	h.runJSON(&again, "scan", testToken)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.ScanCount)

	out, err := h.run("bottles")
	require.NoError(t, err)
	assert.Contains(t, out, "Calm")
	assert.Contains(t, out, "Total: 1 bottle(s)")
	assert.NotContains(t, out, testToken)
}

func TestEntryIsQueuedAndDelivered(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := newHarness(t)
	protocolID := h.startProtocol()

	var entry types.Entry
	h.runJSON(&entry, "entry", "add", protocolID,
		"--energy", "4", "--clarity", "4", "--mood", "5", "--content", "felt calm", "--tags", "morning")
	assert.Equal(t, types.ContributionPending, entry.ContributionStatus)

	var status statusResult
	h.runJSON(&status, "sync", "status")
	assert.Equal(t, 1, status.Pending)

	t.Setenv("JOURNAL_SYNC_ENDPOINT", srv.URL)
	out, err := h.run("sync", "drain")
	require.NoError(t, err)
	assert.Contains(t, out, "delivered 1")

	mu.Lock()
	require.Len(t, bodies, 1)
	body := bodies[0]
	mu.Unlock()
	assert.NotContains(t, body, "felt calm")
	assert.NotContains(t, body, "morning")
	assert.NotContains(t, body, testToken)

	var entries []types.Entry
	h.runJSON(&entries, "entry", "list", protocolID)
	require.Len(t, entries, 1)
	assert.Equal(t, types.ContributionSynced, entries[0].ContributionStatus)
}

func TestSyncRetryRequiresDeadItem(t *testing.T) {
	h := newHarness(t)
	protocolID := h.startProtocol()
	_, err := h.run("entry", "add", protocolID, "--energy", "3", "--clarity", "3", "--mood", "3")
	require.NoError(t, err)

	var status statusResult
	h.runJSON(&status, "sync", "status")
	require.Equal(t, 1, status.Pending)
	require.Empty(t, status.DeadItems)

	_, err = h.run("sync", "retry", "no-such-item")
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestDrainWithoutEndpoint(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("sync", "drain")
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrEndpointMissing)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestProtocolLifecycle(t *testing.T) {
	h := newHarness(t)
	protocolID := h.startProtocol()

	var p types.Protocol
	h.runJSON(&p, "protocol", "advance", protocolID)
	assert.Equal(t, 1, p.CurrentDay)
	h.runJSON(&p, "protocol", "pause", protocolID)
	assert.Equal(t, types.ProtocolPaused, p.Status)

	_, err := h.run("protocol", "pause", protocolID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, exitUserError, exitCode(err))

	h.runJSON(&p, "protocol", "resume", protocolID)
	assert.Equal(t, types.ProtocolActive, p.Status)

	var dose types.Dose
	h.runJSON(&dose, "dose", "add", protocolID, "--notes", "with breakfast")
	assert.Equal(t, 1, dose.DayNumber)

	var listed []types.Protocol
	h.runJSON(&listed, "protocol", "list", "--status", types.ProtocolActive)
	require.Len(t, listed, 1)

	_, err = h.run("protocol", "delete", protocolID)
	require.NoError(t, err)
	_, err = h.run("protocol", "delete", protocolID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUserErrors(t *testing.T) {
	h := newHarness(t)
	protocolID := h.startProtocol()

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"bad token", []string{"scan", "not-a-token"}, types.ErrValidation},
		{"metric out of range", []string{"entry", "add", protocolID, "--energy", "9", "--clarity", "3", "--mood", "3"}, types.ErrValidation},
		{"unknown protocol", []string{"dose", "add", "missing"}, types.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.args...)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, exitUserError, exitCode(err))
		})
	}

	t.Run("missing argument", func(t *testing.T) {
		_, err := h.run("protocol", "start")
		assert.Equal(t, exitUserError, exitCode(err))
	})
	t.Run("unknown flag", func(t *testing.T) {
		_, err := h.run("bottles", "--nope")
		assert.Equal(t, exitUserError, exitCode(err))
	})
}

func TestPINLocksWrites(t *testing.T) {
	h := newHarness(t)
	h.pins = []string{"2468", "2468"}
	_, err := h.run("pin", "set")
	require.NoError(t, err)

	h.pins = []string{"1111"}
	_, err = h.run("scan", testToken)
	assert.ErrorIs(t, err, appstate.ErrWrongPIN)
	assert.Equal(t, exitUserError, exitCode(err))

	h.pins = []string{"2468"}
	_, err = h.run("scan", testToken)
	require.NoError(t, err)

	t.Run("mismatched confirmation", func(t *testing.T) {
		h.pins = []string{"2468", "1357", "9753"}
		_, err := h.run("pin", "set")
		assert.ErrorIs(t, err, errPINMismatch)
	})
}

func TestRecoveryKey(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("recovery-key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "PSY-"), out)
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	protocolID := h.startProtocol()
	_, err := h.run("entry", "add", protocolID, "--energy", "2", "--clarity", "3", "--mood", "4")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "export")
	var counts map[string]int
	h.runJSON(&counts, "export", dir)
	assert.Equal(t, 1, counts[types.TableBottles])
	assert.Equal(t, 1, counts[types.TableEntries])
	assert.Equal(t, 1, counts[types.TableSyncQueue])

	data, err := os.ReadFile(filepath.Join(dir, types.TableEntries+".jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestConfigFromEnvironment(t *testing.T) {
	h := newHarness(t)
	t.Setenv("JOURNAL_SYNC_BATCH_SIZE", "-1")
	_, err := h.run("bottles")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBatchSizeInvalid)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestEntryAddFlagRanges(t *testing.T) {
	cmd := newEntryAddCmd(&app{})
	tests := map[string]string{
		"energy":       "(1-5)",
		"anxiety":      "(1-5)",
		"sleep":        "(1-5)",
		"post-energy":  "(1-10)",
		"post-clarity": "(1-10)",
		"post-mood":    "(1-10)",
	}
	for name, want := range tests {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Contains(t, f.Usage, want, name)
	}
}
