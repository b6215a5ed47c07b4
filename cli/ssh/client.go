// Package ssh reaches a probe server on a lab machine. A persistent master
// connection carries port forwards, image uploads and remote commands.
package ssh

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

// Client manages an SSH connection to a specific remote host.
type Client struct {
	logger       zerolog.Logger
	host         string
	controlPath  string
	identityFile string
	extraOptions []string
}

// SSHOption is a function that configures an SSH client.
type SSHOption func(*Client)

// WithIdentityFile sets the identity file (private key) to use for authentication.
func WithIdentityFile(path string) SSHOption {
	return func(c *Client) {
		c.identityFile = path
	}
}

// WithExtraOptions adds ssh_config options such as "ProxyJump=bastion".
func WithExtraOptions(options ...string) SSHOption {
	return func(c *Client) {
		c.extraOptions = append(c.extraOptions, options...)
	}
}

// New creates a new SSH client and establishes a multiplexed connection to the host.
func New(logger zerolog.Logger, host string, opts ...SSHOption) (*Client, error) {
	c := &Client{
		logger: logger,
		host:   host,
	}
	for _, opt := range opts {
		opt(c)
	}

	controlPath, err := c.setupMultiplexing()
	if err != nil {
		return nil, fmt.Errorf("failed to setup SSH multiplexing: %w", err)
	}
	c.controlPath = controlPath

	return c, nil
}

// Close stops the master connection, which drops its forwards.
func (c *Client) Close() {
	c.logger.Debug().Str("controlPath", c.controlPath).Msg("Cleaning up SSH multiplexing")
	_ = exec.Command("ssh", c.controlArgs("exit")...).Run() // Ignore errors on cleanup
	_ = os.Remove(c.controlPath)
}

// run executes command on the remote host.
func (c *Client) run(command string) (stdout, stderr string, err error) {
	args := append(c.buildSSHArgs(), c.host, command)
	cmd := exec.Command("ssh", args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	c.logger.Debug().
		Str("host", c.host).
		Str("command", command).
		Msg("Running remote command")

	if err := cmd.Run(); err != nil {
		return "", "", fmt.Errorf("command failed: %w (stderr: %s)", err, stderrBuf.String())
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// RunCommand executes a command on the remote host and returns its stdout.
func (c *Client) RunCommand(command string) (string, error) {
	stdout, _, err := c.run(command)
	return stdout, err
}

// RunCommandWithStderr executes a command on the remote host and returns both stdout and stderr.
func (c *Client) RunCommandWithStderr(command string) (stdout, stderr string, err error) {
	return c.run(command)
}

// authArgs are the options every ssh and scp invocation shares.
func (c *Client) authArgs() []string {
	var args []string
	if c.identityFile != "" {
		args = append(args, "-i", c.identityFile)
	}
	for _, opt := range c.extraOptions {
		args = append(args, "-o", opt)
	}
	return args
}

// buildSSHArgs returns the arguments of a command riding on the master
// connection.
func (c *Client) buildSSHArgs() []string {
	var args []string
	if c.controlPath != "" {
		args = append(args,
			"-o", fmt.Sprintf("ControlPath=%s", c.controlPath),
			"-o", "ControlMaster=no",
		)
	}
	return append(args, c.authArgs()...)
}

// masterArgs returns the arguments that start a backgrounded master
// connection listening on controlPath.
func (c *Client) masterArgs(controlPath string) []string {
	args := []string{
		"-o", "ControlMaster=auto",
		"-o", fmt.Sprintf("ControlPath=%s", controlPath),
		"-o", "ControlPersist=30s",
		"-o", "ConnectTimeout=10",
		"-o", "ServerAliveInterval=15",
		"-o", "ServerAliveCountMax=3",
	}
	args = append(args, c.authArgs()...)
	return append(args,
		"-f", // Run in background
		"-N", // Don't execute a remote command
		c.host,
	)
}

// controlArgs returns the arguments of a control command sent to the
// master connection.
func (c *Client) controlArgs(op string, extra ...string) []string {
	args := []string{
		"-o", fmt.Sprintf("ControlPath=%s", c.controlPath),
		"-O", op,
	}
	args = append(args, extra...)
	return append(args, c.host)
}

// OpenOCDVersion returns the version banner of the OpenOCD installed on the
// remote host.
func (c *Client) OpenOCDVersion() (string, error) {
	stdout, stderr, err := c.run("openocd --version")
	if err != nil {
		return "", fmt.Errorf("openocd is not usable on %s: %w", c.host, err)
	}
	// OpenOCD prints its banner to stderr.
	out := stderr
	if strings.TrimSpace(out) == "" {
		out = stdout
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return line, nil
}

// RemoteImageDir returns the directory images are copied to on the remote
// host.
func (c *Client) RemoteImageDir() (string, error) {
	cacheDir, err := c.getRemoteCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get remote cache directory: %w", err)
	}
	return cacheDir + "/images", nil
}

// remoteImagePath names an image on the remote host by content hash.
func remoteImagePath(imageDir, localPath string, data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s/%s.%s", imageDir, hex.EncodeToString(hash[:])[:16], filepath.Base(localPath))
}

// CopyImageToRemote copies a local image to the remote host so a probe
// server there can flash it.
func (c *Client) CopyImageToRemote(localPath string, data []byte) (string, error) {
	imageDir, err := c.RemoteImageDir()
	if err != nil {
		return "", err
	}
	remotePath := remoteImagePath(imageDir, localPath, data)

	c.logger.Info().
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("Copying image to remote host")

	if _, err := c.RunCommand("mkdir -p " + shellescape.Quote(imageDir)); err != nil {
		return "", fmt.Errorf("failed to create remote image directory: %w", err)
	}

	args := append(c.buildSSHArgs(), localPath, fmt.Sprintf("%s:%s", c.host, remotePath))
	cmd := exec.Command("scp", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger.Debug().
		Str("command", shellescape.QuoteCommand(cmd.Args)).
		Msg("Executing scp")

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to copy image: %w (stderr: %s)", err, stderr.String())
	}
	return remotePath, nil
}

// forwardArgs returns the control command arguments that add (or cancel)
// a local port forward on the master connection.
func (c *Client) forwardArgs(op, localAddr, remoteAddr string) []string {
	return c.controlArgs(op, "-L", localAddr+":"+remoteAddr)
}

// Forward makes remoteAddr, as seen from the remote host, reachable at
// localAddr through the master connection.
func (c *Client) Forward(localAddr, remoteAddr string) error {
	cmd := exec.Command("ssh", c.forwardArgs("forward", localAddr, remoteAddr)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to forward %s to %s: %w (stderr: %s)", localAddr, remoteAddr, err, stderr.String())
	}
	c.logger.Debug().Str("local", localAddr).Str("remote", remoteAddr).Msg("Port forward established")
	return nil
}

// CancelForward removes a forward added by Forward.
func (c *Client) CancelForward(localAddr, remoteAddr string) {
	_ = exec.Command("ssh", c.forwardArgs("cancel", localAddr, remoteAddr)...).Run() // Ignore errors on cleanup
}

// Host returns the remote host this client is connected to.
func (c *Client) Host() string {
	return c.host
}

// controlPathFor returns the socket path of the master connection to host.
// Unix socket paths are limited to about 104 bytes, so the host is hashed.
func controlPathFor(dir, host string) string {
	hash := sha256.Sum256([]byte(host))
	return filepath.Join(dir, "ssh-"+hex.EncodeToString(hash[:])[:12])
}

// setupMultiplexing establishes an SSH master connection for multiplexing.
func (c *Client) setupMultiplexing() (string, error) {
	controlDir := c.getControlSocketDir()
	if err := os.MkdirAll(controlDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create control directory: %w", err)
	}
	controlPath := controlPathFor(controlDir, c.host)

	c.logger.Debug().
		Str("host", c.host).
		Str("controlPath", controlPath).
		Int("pathLength", len(controlPath)).
		Msg("Setting up SSH multiplexing")

	cmd := exec.Command("ssh", c.masterArgs(controlPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to establish SSH master connection: %w (stderr: %s)", err, stderr.String())
	}

	c.logger.Debug().Str("host", c.host).Msg("SSH master connection established")
	return controlPath, nil
}

// getControlSocketDir returns the directory to use for SSH control sockets,
// preferring XDG_RUNTIME_DIR since it is short and private.
func (c *Client) getControlSocketDir() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "semitest")
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home := os.Getenv("HOME"); home != "" {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		return filepath.Join(configHome, "semitest")
	}

	return filepath.Join(os.TempDir(), "semitest")
}

// remoteCacheDirScript prints the semitest cache directory of the remote
// user.
const remoteCacheDirScript = `
if [ -n "$XDG_CACHE_HOME" ]; then
    echo "$XDG_CACHE_HOME/semitest"
elif [ -n "$HOME" ]; then
    echo "$HOME/.cache/semitest"
else
    echo "/tmp/semitest"
fi
`

func (c *Client) getRemoteCacheDir() (string, error) {
	cacheDir, err := c.RunCommand(remoteCacheDirScript)
	if err != nil {
		return "", fmt.Errorf("failed to determine remote cache directory: %w", err)
	}
	return strings.TrimSpace(cacheDir), nil
}
