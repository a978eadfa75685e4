package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon answers every request with reply and records what it received.
func fakeDaemon(t *testing.T, reply IPCResponse) (socket string, received <-chan ActionEnvelope) {
	t.Helper()

	dir, err := os.MkdirTemp("", "doorctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket = filepath.Join(dir, "d.sock")

	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan ActionEnvelope, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			line, err := bufio.NewReader(conn).ReadBytes('\n')
			if err == nil {
				var env ActionEnvelope
				if json.Unmarshal(line, &env) == nil {
					got <- env
				}
				_ = json.NewEncoder(conn).Encode(reply)
			}
			conn.Close()
		}
	}()
	return socket, got
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCount(t *testing.T) {
	sock, received := fakeDaemon(t, IPCResponse{Status: "ok", Data: json.RawMessage(`{"count":4,"at":"2026-01-01T00:00:00Z"}`)})

	out, err := runCLI(t, "--socket", sock, "count")
	require.NoError(t, err)
	assert.Equal(t, "4\n", out)
	assert.Equal(t, "get_count", (<-received).Type)
}

func TestSampleSendsBarrierAndRaw(t *testing.T) {
	sock, received := fakeDaemon(t, IPCResponse{Status: "ok", Data: json.RawMessage(`{"verdict":"accepted"}`)})

	out, err := runCLI(t, "--socket", sock, "sample", "outer", "120")
	require.NoError(t, err)
	assert.Equal(t, "accepted\n", out)

	env := <-received
	assert.Equal(t, "barrier_sample", env.Type)
	assert.JSONEq(t, `{"barrier":"outer","raw":120}`, string(env.Data))
}

func TestSampleRejectsBadRaw(t *testing.T) {
	_, err := runCLI(t, "--socket", "/nonexistent.sock", "sample", "outer", "dark")
	assert.Error(t, err)
}

func TestDaemonErrorIsReturned(t *testing.T) {
	sock, _ := fakeDaemon(t, IPCResponse{Status: "error", Error: "crossing log is disabled"})

	_, err := runCLI(t, "--socket", sock, "crossings")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crossing log is disabled")
}

func TestCrossingsTable(t *testing.T) {
	sock, received := fakeDaemon(t, IPCResponse{Status: "ok", Data: json.RawMessage(
		`[{"direction":"out","applied":0,"count":0,"at":"2026-01-01T10:00:00Z"},
		  {"direction":"in","applied":1,"count":1,"at":"2026-01-01T09:59:00Z"}]`)})

	out, err := runCLI(t, "--socket", sock, "crossings", "--limit", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "DIRECTION")
	assert.Contains(t, lines[1], "out")
	assert.Contains(t, lines[1], "+0")
	assert.Contains(t, lines[2], "+1")

	assert.JSONEq(t, `{"limit":2}`, string((<-received).Data))
}

func TestStatusJSON(t *testing.T) {
	sock, _ := fakeDaemon(t, IPCResponse{Status: "ok", Data: json.RawMessage(`{"count":2}`)})

	out, err := runCLI(t, "--socket", sock, "--json", "status")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, out)
}
