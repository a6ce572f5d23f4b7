package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ardanlabs/dpos/foundation/blockchain/transaction"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())

	return out.String()
}

func writeGenesis(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "genesis.json")
	doc := `{"rewards": {"milestones": [500, 400], "offset": 10, "distance": 5}, "total_amount": 1000}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	return path
}

func TestReward(t *testing.T) {
	out := execute(t, "reward", "--genesis", writeGenesis(t), "--from", "9", "--to", "15", "--step", "1")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 8)
	require.Equal(t, []string{"9", "0", "0", "1000"}, strings.Fields(lines[1]))
	require.Equal(t, []string{"10", "0", "500", "1500"}, strings.Fields(lines[2]))
	require.Equal(t, []string{"15", "1", "400", "3900"}, strings.Fields(lines[7]))
}

func TestKeysAndSend(t *testing.T) {
	dir := t.TempDir()
	gen := writeGenesis(t)

	out := execute(t, "keys", "generate", "--account", "tester", "--account-path", dir)
	require.Contains(t, out, "Address:")
	require.FileExists(t, filepath.Join(dir, "tester.key"))

	var got transaction.Tx
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tx/submit", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"id": got.ID, "status": "transaction added to pool"})
	}))
	defer srv.Close()

	out = execute(t, "send", "--account", "tester", "--account-path", dir, "--genesis", gen,
		"--url", srv.URL, "--to", "12345L", "--amount", "100")

	require.Equal(t, transaction.TypeSend, got.Type)
	require.Equal(t, "12345L", got.RecipientID)
	require.EqualValues(t, 100, got.Amount)
	require.NotEmpty(t, got.Signature)
	require.Contains(t, out, got.ID)
}
