package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("9.9.9", "deadbee")

	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "hub version 9.9.9")
	assert.Contains(t, out.String(), "deadbee")
}

func TestHashPasswordCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newHashPasswordCmd()
	cmd.SetIn(strings.NewReader("hunter2\n"))
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	assert.True(t, strings.HasPrefix(out.String(), "$argon2id$"))
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	cmd := newHashPasswordCmd()
	cmd.SetIn(strings.NewReader("\n"))
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	require.Error(t, cmd.Execute())
}

func TestRootHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "version", "user", "token", "server", "hash-password", "self-update"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}
