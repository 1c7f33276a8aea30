package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForSessionIsDeterministic(t *testing.T) {
	a := ForSession("seed", "s1", "br")
	b := ForSession("seed", "s1", "BR")
	assert.Equal(t, a, b)
	assert.Len(t, a.DeviceID, 16)
	assert.Regexp(t, `^DESKTOP-[0-9A-F]{7}$`, a.ComputerName)
	assert.Contains(t, a.OS, a.ComputerName)
	assert.Equal(t, "pt-BR", a.Language)

	other := ForSession("seed", "s2", "BR")
	assert.NotEqual(t, a.DeviceID, other.DeviceID)
}

func TestForSessionUnknownCountryFallsBack(t *testing.T) {
	d := ForSession("", "s1", "ZZ")
	assert.Equal(t, "BR", d.Country)
	assert.Equal(t, "America/Sao_Paulo", d.Timezone)
}
