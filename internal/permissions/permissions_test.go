package permissions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[default]
command_blacklist = ["Shutdown", "restart"]
ignore_non_voice = ["play"]

[[group]]
name = "DJ"
roles = ["r-dj"]
command_whitelist = ["play", "skip"]

[[group]]
name = "Banned"
users = ["u-banned"]
roles = ["r-dj"]
command_whitelist = ["help"]
`

func TestForUser_Groups(t *testing.T) {
	p, err := Parse(sample, "owner")
	require.NoError(t, err)

	owner := p.ForUser(&discordgo.User{ID: "owner"}, nil)
	assert.Equal(t, "Owner (auto)", owner.Name())
	assert.True(t, owner.Allows("shutdown"))

	def := p.ForUser(&discordgo.User{ID: "someone"}, nil)
	assert.Equal(t, "Default", def.Name())
	assert.False(t, def.Allows("shutdown"), "names are lower-cased")
	assert.True(t, def.Allows("play"))
	assert.True(t, def.RequiresVoice("play"))

	dj := p.ForUser(&discordgo.User{ID: "someone"}, &discordgo.Member{Roles: []string{"r-dj"}})
	assert.Equal(t, "DJ", dj.Name())
	assert.True(t, dj.Allows("skip"))
	assert.False(t, dj.Allows("help"))

	// explicit user listing wins over an earlier role match
	banned := p.ForUser(&discordgo.User{ID: "u-banned"}, &discordgo.Member{Roles: []string{"r-dj"}})
	assert.Equal(t, "Banned", banned.Name())
}

func TestSet_AllowsChecksWhitelistThenBlacklist(t *testing.T) {
	s := NewSet("g", []string{"play", "skip"}, []string{"skip"}, nil)
	assert.True(t, s.Allows("play"))
	assert.False(t, s.Allows("skip"), "blacklist still applies to whitelisted commands")
	assert.False(t, s.Allows("queue"), "non-empty whitelist excludes everything else")

	open := NewSet("open", nil, []string{"shutdown"}, nil)
	assert.True(t, open.Allows("queue"))
	assert.False(t, open.Allows("shutdown"))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "Default", p.Default().Name())
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[default\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestGrantAll(t *testing.T) {
	p, err := Parse(sample)
	require.NoError(t, err)

	assert.Equal(t, "Default", p.ForUser(&discordgo.User{ID: "late"}, nil).Name())
	p.GrantAll("late")
	assert.Equal(t, "Owner (auto)", p.ForUser(&discordgo.User{ID: "late"}, nil).Name())
}
