package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/dhtstate/internal/dhtop"
	"github.com/roach88/dhtstate/internal/fixt"
	"github.com/roach88/dhtstate/internal/kv"
)

// agentSeed is the seed of fixt.NewAuthor(0).
var agentSeed = strings.Repeat("01", 32)

// testDNA is a fixed dna hash in hex.
var testDNA = fixt.Hash("dna").String()

// execute runs the root command with args and returns what it wrote.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

// withAgent points the configuration at the fixture agent and isolates it
// from any developer settings.
func withAgent(t *testing.T) {
	t.Helper()
	t.Setenv("DHTSTATE_AGENT_SEED", agentSeed)
	t.Setenv("DHTSTATE_DB_DRIVER", "sqlite3")
	t.Setenv("DHTSTATE_LOG_LEVEL", "error")
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cell.db")
}

// decodeData parses a JSON success response into data.
func decodeData(t *testing.T, stdout string, data any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, data))
}

// writeOpsFile writes ops in their JSON form, which the ops loader reads
// as YAML.
func writeOpsFile(t *testing.T, from *dhtop.AgentKey, ops ...dhtop.DhtOp) string {
	t.Helper()
	doc := map[string]any{"ops": ops}
	if from != nil {
		doc["from"] = from.String()
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ops.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// countOf returns the record count inspect reported for p, or -1.
func countOf(r InspectResult, p kv.Partition) int {
	for _, c := range r.Partitions {
		if c.Partition == p {
			return c.Records
		}
	}
	return -1
}
