package cli

// This file contains probe selection and the SSH plumbing that makes a
// probe server on a lab host reachable.

import (
	"context"
	"fmt"
	"net"

	"github.com/perfgo/semitest/cli/ssh"
	"github.com/perfgo/semitest/image"
	"github.com/perfgo/semitest/model"
	"github.com/perfgo/semitest/probe"
	"github.com/perfgo/semitest/probe/openocd"
	"github.com/perfgo/semitest/probe/sim"
	"github.com/perfgo/semitest/semihosting"
	"github.com/perfgo/semitest/session"
)

const (
	probeSim     = "sim"
	probeOpenOCD = "openocd"
)

// probeTarget is how to reach the core an image runs on.
type probeTarget struct {
	dial  session.Dialer
	image probe.Image
	info  *model.Target
	close func()
}

// probeName picks the driver for img when none was configured.
func probeName(s settings, img *image.Image) string {
	if s.Probe != "" {
		return s.Probe
	}
	if img.Simulated() {
		return probeSim
	}
	return probeOpenOCD
}

// resolveArch prefers the configured architecture over the detected one.
func resolveArch(s settings, img *image.Image) (*semihosting.Arch, error) {
	if s.Arch != "" {
		return semihosting.ArchByName(s.Arch)
	}
	if img.Arch == nil {
		return nil, fmt.Errorf("cannot detect the architecture of %s: pass --arch", img.Path)
	}
	return img.Arch, nil
}

// freeLocalAddr returns a loopback address with a port nothing listens on.
func freeLocalAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to find a free local port: %w", err)
	}
	defer l.Close()
	return l.Addr().String(), nil
}

func (a *App) openProbe(s settings, img *image.Image, arch *semihosting.Arch) (*probeTarget, error) {
	name := probeName(s, img)
	pt := &probeTarget{
		image: img.Probe(),
		info: &model.Target{
			Probe: name,
			Arch:  arch.Name,
			Image: img.Path,
		},
		close: func() {},
	}

	switch name {
	case probeSim:
		if !img.Simulated() {
			return nil, fmt.Errorf("the %s probe only runs %s<name> images (known: %v)", probeSim, sim.ImagePrefix, sim.Images())
		}
		pt.dial = func(context.Context) (probe.Driver, error) {
			return sim.New(a.logger), nil
		}
		return pt, nil
	case probeOpenOCD:
		if img.Simulated() {
			return nil, fmt.Errorf("%s is a simulated image; use --probe %s", img.Path, probeSim)
		}
	default:
		return nil, fmt.Errorf("unknown probe %q", name)
	}

	addr := s.ProbeAddr
	pt.info.ProbeAddr = addr

	if s.RemoteHost != "" {
		a.logger.Info().Str("host", s.RemoteHost).Msg("Connecting to remote host")

		var opts []ssh.SSHOption
		if s.SSHIdentity != "" {
			opts = append(opts, ssh.WithIdentityFile(s.SSHIdentity))
		}
		if len(s.SSHOptions) > 0 {
			opts = append(opts, ssh.WithExtraOptions(s.SSHOptions...))
		}
		sshClient, err := ssh.New(a.logger, s.RemoteHost, opts...)
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to setup SSH connection")
			return nil, err
		}

		version, err := sshClient.OpenOCDVersion()
		if err != nil {
			sshClient.Close()
			return nil, err
		}
		pt.info.RemoteHost = s.RemoteHost
		pt.info.ProbeVersion = version
		a.logger.Info().Str("version", version).Msg("Detected remote probe server")

		// The probe server flashes from its own filesystem
		remotePath, err := sshClient.CopyImageToRemote(img.Path, img.Data)
		if err != nil {
			sshClient.Close()
			return nil, err
		}
		pt.image.Path = remotePath

		localAddr, err := freeLocalAddr()
		if err != nil {
			sshClient.Close()
			return nil, err
		}
		if err := sshClient.Forward(localAddr, s.ProbeAddr); err != nil {
			sshClient.Close()
			return nil, err
		}
		a.logger.Info().
			Str("local", localAddr).
			Str("remote", s.ProbeAddr).
			Msg("Forwarding probe server")

		addr = localAddr
		pt.close = func() {
			sshClient.CancelForward(localAddr, s.ProbeAddr)
			sshClient.Close()
		}
	}

	pt.dial = func(ctx context.Context) (probe.Driver, error) {
		return openocd.Dial(ctx, a.logger, addr)
	}
	return pt, nil
}
