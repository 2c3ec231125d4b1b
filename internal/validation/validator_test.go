package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string `json:"name" validate:"required"`
	Group   string `json:"group_id" validate:"groupid"`
	Kind    string `yaml:"kind" validate:"omitempty,oneof=a b"`
	Untaged int    `validate:"gte=0"`
}

func TestStructReportsAllFailures(t *testing.T) {
	err := Get().Struct(sample{Group: "bad group!", Kind: "c", Untaged: -1})
	require.Error(t, err)

	var verrs Errors
	require.True(t, errors.As(err, &verrs))
	codes := map[string]string{}
	for _, fe := range verrs {
		codes[fe.Field] = fe.Code
	}
	assert.Equal(t, map[string]string{
		"sample.name":     "REQUIRED",
		"sample.group_id": "GROUPID",
		"sample.kind":     "ONEOF",
		"sample.Untaged":  "GTE",
	}, codes)
	assert.Contains(t, err.Error(), "Must be one of: a, b")
}

func TestStructPasses(t *testing.T) {
	assert.NoError(t, Get().Struct(sample{Name: "x", Group: "team_a-1", Kind: "b"}))
}

func TestVar(t *testing.T) {
	assert.NoError(t, Get().Var("3f2504e0-4f89-11d3-9a0c-0305e82c3301", "uuid"))
	assert.Error(t, Get().Var("nope", "uuid"))
}
