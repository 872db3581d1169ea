package pdd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHelper(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "login-helper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestCommandCredentialerLogin(t *testing.T) {
	helper := writeHelper(t, `
if [ "$1" != "login" ] || [ "$2" != "--username" ] || [ "$3" != "merchant" ] || [ "$5" != "secret" ]; then
	echo "unexpected args: $@" >&2
	exit 1
fi
echo '{"cookies": {"PASS_ID": "fresh"}, "profile_dir": "/tmp/pdd-profile-1"}'`)

	c, err := NewCommandCredentialer(testLogger(), helper)
	require.NoError(t, err)

	result, err := c.Login(context.Background(), "merchant", "secret")
	require.NoError(t, err)
	assert.Equal(t, Credentials{"PASS_ID": "fresh"}, result.Cookies)
	assert.Equal(t, "/tmp/pdd-profile-1", result.ProfileDir)
}

func TestCommandCredentialerSilentRefresh(t *testing.T) {
	helper := writeHelper(t, `
if [ "$1" != "refresh" ] || [ "$2" != "--profile-dir" ] || [ "$3" != "/tmp/pdd-profile-1" ]; then
	echo "unexpected args: $@" >&2
	exit 1
fi
echo '{"cookies": {"PASS_ID": "renewed"}}'`)

	c, err := NewCommandCredentialer(testLogger(), helper)
	require.NoError(t, err)

	cookies, err := c.SilentRefresh(context.Background(), "/tmp/pdd-profile-1")
	require.NoError(t, err)
	assert.Equal(t, Credentials{"PASS_ID": "renewed"}, cookies)
}

func TestCommandCredentialerHelperFailure(t *testing.T) {
	helper := writeHelper(t, `
echo "captcha required" >&2
exit 1`)

	c, err := NewCommandCredentialer(testLogger(), helper)
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "merchant", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "captcha required")
}

func TestCommandCredentialerNoCookies(t *testing.T) {
	helper := writeHelper(t, `echo '{"cookies": {}}'`)

	c, err := NewCommandCredentialer(testLogger(), helper)
	require.NoError(t, err)

	_, err = c.SilentRefresh(context.Background(), "/tmp/pdd-profile-1")
	require.Error(t, err)
}

func TestCommandCredentialerEmptyCommand(t *testing.T) {
	_, err := NewCommandCredentialer(testLogger(), "   ")
	require.Error(t, err)
}
