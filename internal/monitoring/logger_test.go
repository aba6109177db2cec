package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() {
		Logf = original
		SetDebug(false)
	})
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("fit %s", "INDEX")
	assert.Equal(t, []string{"fit INDEX"}, *lines)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted") })
	assert.Len(t, *lines, 1)
}

func TestDebugf(t *testing.T) {
	lines := capture(t)
	Debugf("tick %d", 1)
	assert.Empty(t, *lines)

	SetDebug(true)
	Debugf("tick %d", 2)
	assert.Equal(t, []string{"tick 2"}, *lines)
}

func TestPrefixed(t *testing.T) {
	lines := capture(t)
	logf := Prefixed("serial")
	logf("port %s closed", "/dev/ttyUSB0")
	assert.Equal(t, []string{"[serial] port /dev/ttyUSB0 closed"}, *lines)
}
