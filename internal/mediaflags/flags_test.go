package mediaflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	o := DefaultOptions()
	o.Port = 0
	code, err := o.Validate()
	assert.Error(t, err)
	assert.Equal(t, ExitInvalidConfig, code)
}

func TestValidateRejectsMissingDirectory(t *testing.T) {
	o := DefaultOptions()
	o.Directory = "/nonexistent/path/for/dlnaserve/tests"
	code, err := o.Validate()
	assert.Error(t, err)
	assert.Equal(t, ExitDirectoryMissing, code)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	o := DefaultOptions()
	_, err := o.Validate()
	assert.NoError(t, err)
}

func TestDefaultFriendlyNameMentionsHostname(t *testing.T) {
	name := DefaultFriendlyName()
	assert.Contains(t, name, "ZeroConfigDLNA on ")
}
