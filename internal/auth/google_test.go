package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainAllowed(t *testing.T) {
	assert.True(t, domainAllowed("a@clinic.org", nil))
	assert.True(t, domainAllowed("A@Clinic.ORG", []string{"clinic.org"}))
	assert.False(t, domainAllowed("a@evil.org", []string{"clinic.org"}))
	assert.False(t, domainAllowed("a@notclinic.org", []string{"clinic.org"}))
}

func TestRandomHex(t *testing.T) {
	a, b := randomHex(16), randomHex(16)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
