package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "https://api.coze.cn", p.AgentEndpoint)
	assert.Equal(t, "08:00", p.BusinessStart)
	assert.Equal(t, 1000, p.QueueMaxSize)
	assert.Empty(t, p.LoginCommand, "credential refresh is opt-in")
}

func TestFromEnvLoginCommand(t *testing.T) {
	t.Setenv("CUSTOMER_AGENT_LOGIN_COMMAND", "python3 /opt/helpers/pdd_login.py")

	p := &Profile{}
	p.FromEnv()
	assert.Equal(t, "python3 /opt/helpers/pdd_login.py", p.LoginCommand)
}

func TestValidateRejectsBadClock(t *testing.T) {
	p := &Profile{
		Data:          t.TempDir(),
		BusinessStart: "25:00",
		BusinessEnd:   "23:00",
		AgentToken:    "tok",
		AgentBotID:    "bot",
	}
	require.Error(t, p.Validate())
}
