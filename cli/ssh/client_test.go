package ssh

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testClient() *Client {
	c := &Client{logger: zerolog.Nop(), host: "pi@lab", controlPath: "/run/semitest/ssh-abc"}
	for _, opt := range []SSHOption{
		WithIdentityFile("/keys/id"),
		WithExtraOptions("BatchMode=yes"),
	} {
		opt(c)
	}
	return c
}

func TestBuildSSHArgs(t *testing.T) {
	assert.Equal(t, []string{
		"-o", "ControlPath=/run/semitest/ssh-abc",
		"-o", "ControlMaster=no",
		"-i", "/keys/id",
		"-o", "BatchMode=yes",
	}, testClient().buildSSHArgs())

	bare := &Client{host: "lab"}
	assert.Empty(t, bare.buildSSHArgs())
}

func TestMasterArgs(t *testing.T) {
	args := testClient().masterArgs("/run/semitest/ssh-def")
	assert.Equal(t, []string{"-o", "ControlMaster=auto", "-o", "ControlPath=/run/semitest/ssh-def"}, args[:4])
	assert.Contains(t, args, "ControlPersist=30s")
	assert.Equal(t, []string{"-i", "/keys/id", "-o", "BatchMode=yes", "-f", "-N", "pi@lab"}, args[len(args)-7:])
}

func TestForwardArgs(t *testing.T) {
	c := testClient()
	assert.Equal(t, []string{
		"-o", "ControlPath=/run/semitest/ssh-abc",
		"-O", "forward",
		"-L", "127.0.0.1:16666:localhost:6666",
		"pi@lab",
	}, c.forwardArgs("forward", "127.0.0.1:16666", "localhost:6666"))

	assert.Equal(t, []string{
		"-o", "ControlPath=/run/semitest/ssh-abc",
		"-O", "exit",
		"pi@lab",
	}, c.controlArgs("exit"))
}

func TestRemoteImagePath(t *testing.T) {
	a := remoteImagePath("/home/pi/.cache/semitest/images", "build/tests.elf", []byte("one"))
	b := remoteImagePath("/home/pi/.cache/semitest/images", "other/tests.elf", []byte("two"))
	assert.True(t, strings.HasPrefix(a, "/home/pi/.cache/semitest/images/"))
	assert.True(t, strings.HasSuffix(a, ".tests.elf"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, remoteImagePath("/home/pi/.cache/semitest/images", "elsewhere/tests.elf", []byte("one")))
}

func TestControlPathFor(t *testing.T) {
	p := controlPathFor("/run/user/1000/semitest", "pi@lab")
	assert.Equal(t, "/run/user/1000/semitest", filepath.Dir(p))
	assert.Len(t, filepath.Base(p), len("ssh-")+12)
	assert.NotEqual(t, p, controlPathFor("/run/user/1000/semitest", "pi@lab2"))
}

func TestControlSocketDir(t *testing.T) {
	c := &Client{}
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, filepath.Join("/run/user/1000", "semitest"), c.getControlSocketDir())

	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/home/me/.config")
	assert.Equal(t, filepath.Join("/home/me/.config", "semitest"), c.getControlSocketDir())
}
