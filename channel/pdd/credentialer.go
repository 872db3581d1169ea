package pdd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// CommandCredentialer shells out to an external login helper. The helper
// owns the browser automation; this side only speaks its contract:
//
//	<command> login --username <name> --password <secret>
//	<command> refresh --profile-dir <dir>
//
// Both print {"cookies": {...}, "profile_dir": "..."} on stdout.
type CommandCredentialer struct {
	logger  *slog.Logger
	command []string
}

var _ Credentialer = (*CommandCredentialer)(nil)

// NewCommandCredentialer splits command on whitespace, so helpers with
// fixed leading arguments ("python3 pdd_login.py") work too.
func NewCommandCredentialer(logger *slog.Logger, command string) (*CommandCredentialer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("login command is empty")
	}
	return &CommandCredentialer{logger: logger, command: fields}, nil
}

type credentialOutput struct {
	Cookies    Credentials `json:"cookies"`
	ProfileDir string      `json:"profile_dir"`
}

func (c *CommandCredentialer) run(ctx context.Context, args ...string) (*credentialOutput, error) {
	full := append(append([]string(nil), c.command[1:]...), args...)
	cmd := exec.CommandContext(ctx, c.command[0], full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "login helper %s: %s", args[0], strings.TrimSpace(stderr.String()))
	}

	var out credentialOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, errors.Wrap(err, "decode login helper output")
	}
	if len(out.Cookies) == 0 {
		return nil, errors.Errorf("login helper %s returned no cookies", args[0])
	}
	return &out, nil
}

// Login implements Credentialer.
func (c *CommandCredentialer) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	out, err := c.run(ctx, "login", "--username", username, "--password", password)
	if err != nil {
		return nil, err
	}
	c.logger.Info("login helper finished", "username", username)
	return &LoginResult{Cookies: out.Cookies, ProfileDir: out.ProfileDir}, nil
}

// SilentRefresh implements Credentialer.
func (c *CommandCredentialer) SilentRefresh(ctx context.Context, profileDir string) (Credentials, error) {
	out, err := c.run(ctx, "refresh", "--profile-dir", profileDir)
	if err != nil {
		return nil, err
	}
	return out.Cookies, nil
}
