package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DialSSH establishes an SSH connection for the endpoint.
//
// Auth methods are tried in order:
//  1. SSH agent (if SSH_AUTH_SOCK is set)
//  2. Key files (~/.ssh/id_ed25519, id_ecdsa, id_rsa) or Endpoint.KeyFile
//  3. Password (if Endpoint.Password is set)
func DialSSH(ctx context.Context, ep Endpoint) (*ssh.Client, error) {
	userName := ep.User
	if userName == "" {
		u, err := user.Current()
		if err != nil {
			return nil, opError(OpLogin, ep.Addr(), fmt.Errorf("determine current user: %w", err))
		}
		userName = u.Username
	}

	port := ep.Port
	if port == 0 {
		port = ProtocolSFTP.DefaultPort()
	}

	authMethods := buildAuthMethods(ep)
	if len(authMethods) == 0 {
		return nil, opError(OpLogin, ep.Addr(),
			errors.New("no SSH auth methods available (set SSH_AUTH_SOCK, provide a key, or password)"))
	}

	hostKeyCallback, err := defaultHostKeyCallback()
	if err != nil {
		//nolint:gosec // fallback for systems without known_hosts
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	config := &ssh.ClientConfig{
		User:            userName,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         ep.Timeout,
	}

	addr := net.JoinHostPort(ep.Host, strconv.Itoa(port))
	d := net.Dialer{Timeout: ep.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, opError(OpDial, addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, opError(OpLogin, addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func buildAuthMethods(ep Endpoint) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			agentClient := agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(agentClient.Signers))
		}
	}

	if ep.KeyFile != "" {
		if m := keyFileAuth(ep.KeyFile); m != nil {
			methods = append(methods, m)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			if m := keyFileAuth(filepath.Join(home, ".ssh", name)); m != nil {
				methods = append(methods, m)
			}
		}
	}

	if ep.Password != "" {
		methods = append(methods, ssh.Password(ep.Password))
	}

	return methods
}

func keyFileAuth(path string) ssh.AuthMethod {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return ssh.PublicKeys(signer)
}

func defaultHostKeyCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
}
