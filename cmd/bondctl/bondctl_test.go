package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes bondctl against db and returns what it printed.
func run(t *testing.T, db, stdin string, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--db", db, "--seed", "7"}, args...))
	err := cmd.Execute()
	a.close()
	return out.String(), err
}

func TestSimulateShowAndDecay(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bond.db")

	out, err := run(t, db, "", "simulate", "-u", "sam",
		"--time-spent", "3600", "--visits", "5", "--days", "5", "--purchased",
		"hi there")
	require.NoError(t, err)
	assert.Contains(t, out, "> hi there\nBonnie: ")
	assert.Contains(t, out, "stranger → friend")
	assert.Contains(t, out, "score 43.5 · friend")

	out, err = run(t, db, "", "pairs")
	require.NoError(t, err)
	assert.Equal(t, "sam\tbonnie\n", out)

	out, err = run(t, db, "", "show", "-u", "sam")
	require.NoError(t, err)
	assert.Contains(t, out, "score      43.5 (friend")
	assert.Contains(t, out, "messages   1")

	// 27 days past the grace period at 1.5 points a day.
	out, err = run(t, db, "", "decay", "--after", "720h")
	require.NoError(t, err)
	assert.Equal(t, "decayed 1 pairs\n", out)

	out, err = run(t, db, "", "show", "-u", "sam")
	require.NoError(t, err)
	assert.Contains(t, out, "score      3.0 (stranger")
	assert.Contains(t, out, "decay      -40.5")
}

func TestSimulateReadsStdin(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bond.db")

	out, err := run(t, db, "my name is Sam\n\ni love painting\n", "simulate", "-p", "nova")
	require.NoError(t, err)
	assert.Contains(t, out, "> my name is Sam\nNova: ")
	assert.Contains(t, out, "> i love painting\nNova: ")

	out, err = run(t, db, "", "show", "-p", "nova")
	require.NoError(t, err)
	assert.Contains(t, out, "messages   2")
	assert.Contains(t, out, "Sam")
}

func TestShowUnknownPair(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bond.db")

	_, err := run(t, db, "", "show", "-u", "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing stored for nobody:bonnie")

	out, err := run(t, db, "", "pairs")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPurchase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bond.db")

	out, err := run(t, db, "", "purchase", "-u", "sam", "--kind", "voice", "--amount", "4.99")
	require.NoError(t, err)
	assert.Contains(t, out, "recorded voice for $4.99")

	out, err = run(t, db, "", "show", "-u", "sam")
	require.NoError(t, err)
	assert.Contains(t, out, "first_purchase")
	assert.Contains(t, out, "$4.99")

	_, err = run(t, db, "", "purchase", "-u", "sam", "--amount", "-1")
	require.Error(t, err)
}

func TestValidatePersonas(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bond.db")

	out, err := run(t, db, "", "validate-personas")
	require.NoError(t, err)
	assert.Contains(t, out, "bonnie")
	assert.Contains(t, out, "galatea")
	assert.Contains(t, out, "nova")
	assert.Contains(t, out, "ok: 3 personas")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: Not Valid\n"), 0o644))
	_, err = run(t, db, "", "validate-personas", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")

	_, err = run(t, db, "", "validate-personas", t.TempDir())
	require.Error(t, err)
}
