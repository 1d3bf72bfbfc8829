package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/internal/wasmtest"
)

type runResult struct {
	stdout string
	stderr string
	err    error
}

// execute runs one command line against a configuration rooted in dir.
func execute(t *testing.T, dir string, args ...string) runResult {
	t.Helper()
	t.Setenv("WASMBRIDGE_STORE__PATH", filepath.Join(dir, "modules"))

	var out, errOut bytes.Buffer
	c := &cli{}
	root := newRootCommand(c)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", filepath.Join(dir, "config.yaml")}, args...))

	err := root.Execute()
	require.NoError(t, c.close())
	return runResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

func writeGuest(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "guest.wasm")
	require.NoError(t, os.WriteFile(path, wasmtest.Guest(), 0o600))
	return path
}

func TestCall_File(t *testing.T) {
	dir := t.TempDir()
	wasm := writeGuest(t, dir)

	r := execute(t, dir, "call", "--wasm", wasm, "--func", "echo", "--payload", "hello")
	require.NoError(t, r.err)
	assert.Equal(t, "hello\n", r.stdout)
	assert.Contains(t, r.stderr, "fuel")
}

func TestCall_PayloadFile(t *testing.T) {
	dir := t.TempDir()
	wasm := writeGuest(t, dir)
	req := filepath.Join(dir, "req.txt")
	require.NoError(t, os.WriteFile(req, []byte("from file\n"), 0o600))

	r := execute(t, dir, "call", "--wasm", wasm, "--func", "echo", "--payload-file", req)
	require.NoError(t, r.err)
	assert.Equal(t, "from file\n", r.stdout)
}

func TestCall_ApplicationFailure(t *testing.T) {
	dir := t.TempDir()
	wasm := writeGuest(t, dir)

	r := execute(t, dir, "call", "--wasm", wasm, "--func", "fail")
	require.Error(t, r.err)
	assert.ErrorAs(t, r.err, new(failureError))
	assert.Contains(t, r.stderr, wasmtest.FailMessage)
	assert.Empty(t, r.stdout)
}

func TestCall_Trap(t *testing.T) {
	dir := t.TempDir()
	wasm := writeGuest(t, dir)

	r := execute(t, dir, "call", "--wasm", wasm, "--func", "trap")
	require.Error(t, r.err)
	assert.True(t, errors.IsKind(r.err, errors.KindGuestTrap))
}

func TestCall_NeedsSource(t *testing.T) {
	dir := t.TempDir()
	r := execute(t, dir, "call", "--func", "echo")
	assert.Error(t, r.err)
}

func TestModuleLifecycle(t *testing.T) {
	dir := t.TempDir()
	wasm := writeGuest(t, dir)

	r := execute(t, dir, "module", "add", "echoer", wasm)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "echoer -> xxh64:")

	r = execute(t, dir, "module", "list")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "echoer")

	r = execute(t, dir, "call", "--module", "echoer", "--func", "echo", "--payload", "stored")
	require.NoError(t, r.err)
	assert.Equal(t, "stored\n", r.stdout)

	r = execute(t, dir, "module", "rm", "echoer")
	require.NoError(t, r.err)

	r = execute(t, dir, "call", "--module", "echoer", "--func", "echo")
	require.Error(t, r.err)
	assert.True(t, errors.IsKind(r.err, errors.KindNotFound))
}

func TestExports(t *testing.T) {
	dir := t.TempDir()
	wasm := writeGuest(t, dir)

	r := execute(t, dir, "exports", "--wasm", wasm)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "echo")
	assert.Contains(t, r.stdout, "bridge_alloc")
	assert.Contains(t, r.stdout, "(i32, i32) -> i64")
}

func TestInstrument(t *testing.T) {
	dir := t.TempDir()
	wasm := writeGuest(t, dir)
	out := filepath.Join(dir, "metered.wasm")

	r := execute(t, dir, "instrument", wasm, "-o", out)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "fuel charges")

	bin, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00asm"), bin[:4])
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()

	r := execute(t, dir, "config", "schema")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "metering_limit")

	r = execute(t, dir, "config", "show")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, filepath.Join(dir, "modules"))
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log:\n  level: loud\n"), 0o600))

	r := execute(t, dir, "config", "show")
	require.Error(t, r.err)
	assert.True(t, errors.IsKind(r.err, errors.KindInvalidInput))
}
