package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepoURL_Shorthand(t *testing.T) {
	p, err := ParseRepoURL("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets.git", p.CloneURL)
	assert.Empty(t, p.Ref)
}

func TestParseRepoURL_ShorthandWithRef(t *testing.T) {
	p, err := ParseRepoURL("acme/widgets#v1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets.git", p.CloneURL)
	assert.Equal(t, "v1.2.0", p.Ref)
}

func TestParseRepoURL_HTTPSAddsGitSuffix(t *testing.T) {
	p, err := ParseRepoURL("https://gitlab.com/acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.com/acme/widgets.git", p.CloneURL)
}

func TestParseRepoURL_HTTPSWithRef(t *testing.T) {
	p, err := ParseRepoURL("https://gitlab.com/acme/widgets.git#main")
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.com/acme/widgets.git", p.CloneURL)
	assert.Equal(t, "main", p.Ref)
}

func TestParseRepoURL_SSHPassthrough(t *testing.T) {
	p, err := ParseRepoURL("git@github.com:acme/widgets.git")
	require.NoError(t, err)
	assert.Equal(t, "git@github.com:acme/widgets.git", p.CloneURL)
}

func TestParseRepoURL_RoundTripNormalization(t *testing.T) {
	shorthand, err := ParseRepoURL("acme/widgets#main")
	require.NoError(t, err)
	full, err := ParseRepoURL("https://github.com/acme/widgets.git#main")
	require.NoError(t, err)
	assert.Equal(t, full, shorthand)
}

func TestParseRepoURL_RejectsGarbage(t *testing.T) {
	_, err := ParseRepoURL("not a url at all!!")
	assert.Error(t, err)
}

func TestParseRepoURL_RejectsEmpty(t *testing.T) {
	_, err := ParseRepoURL("")
	assert.Error(t, err)
}
