package spawner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCommand(t *testing.T) {
	req := Request{Username: "alice", ServerName: "lab", Port: 8401}
	argv, err := RenderCommand([]string{
		"serverd",
		"--user={{.Username}}",
		"--name={{.ServerName}}",
		"--port={{.Port}}",
		"--home=/srv/{{.Username | upper | lower}}",
	}, req)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"serverd", "--user=alice", "--name=lab", "--port=8401", "--home=/srv/alice",
	}, argv)
}

func TestRenderCommandUnknownField(t *testing.T) {
	_, err := RenderCommand([]string{"{{.Nope}}"}, Request{})
	assert.Error(t, err)
}

func TestRenderCommandBadSyntax(t *testing.T) {
	_, err := RenderCommand([]string{"{{.Username"}, Request{})
	assert.Error(t, err)
}

func TestRenderEnv(t *testing.T) {
	env, err := RenderEnv(map[string]string{
		"SERVER_USER": "{{.Username}}",
		"SERVER_PORT": "{{.Port}}",
		"STATIC":      "value",
	}, Request{Username: "bob", Port: 9000})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"SERVER_USER": "bob",
		"SERVER_PORT": "9000",
		"STATIC":      "value",
	}, env)
}
