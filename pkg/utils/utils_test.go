package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetDefaultNum(t *testing.T) {
	var a int
	SetDefaultNum(&a, 8)
	assert.Equal(t, 8, a)

	b := int64(-1)
	SetDefaultNum(&b, 3)
	assert.Equal(t, int64(3), b)

	c := time.Second
	SetDefaultNum(&c, time.Minute)
	assert.Equal(t, time.Second, c)
}

func TestSetDefaultString(t *testing.T) {
	s := ""
	SetDefaultString(&s, "x")
	assert.Equal(t, "x", s)
	SetDefaultString(&s, "y")
	assert.Equal(t, "x", s)
}
