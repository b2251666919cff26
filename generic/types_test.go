package generic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/leave-engine/generic"
)

func TestDecimalParser_KeepsFirstError(t *testing.T) {
	var p generic.DecimalParser
	assert.Equal(t, "12.5", p.Parse("allocated", "12.5").String())
	assert.NoError(t, p.Err)

	assert.True(t, p.Parse("used", "twelve").IsZero())
	assert.True(t, p.Parse("remaining", "").IsZero())
	assert.ErrorContains(t, p.Err, `corrupt used "twelve"`)
}

func TestMustParseDecimal_PanicsOnGarbage(t *testing.T) {
	assert.Equal(t, "0.5", generic.MustParseDecimal("0.5").String())
	assert.Panics(t, func() { generic.MustParseDecimal("half") })
}
