package udn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveIsDeterministic(t *testing.T) {
	a := Derive("host1:/srv/media")
	b := Derive("host1:/srv/media")
	assert.Equal(t, a, b)
}

func TestDeriveDiffersByInput(t *testing.T) {
	a := Derive("host1:/srv/media")
	b := Derive("host2:/srv/media")
	assert.NotEqual(t, a, b)
}

func TestResolveProducesUUIDForm(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	v := Resolve("host1:/srv/media")
	assert.True(t, len(v) > len("uuid:"))
	assert.Equal(t, "uuid:", v[:5])
}
