package entitystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidType_KnownTypes(t *testing.T) {
	assert.True(t, IsValidType(TypeFunction))
	assert.True(t, IsValidType(TypeCheckpoint))
	assert.True(t, IsValidType(TypeDocumentation))
}

func TestIsValidType_UnknownType(t *testing.T) {
	assert.False(t, IsValidType(Type("not-a-real-type")))
	assert.False(t, IsValidType(Type("")))
}
