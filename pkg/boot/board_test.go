package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoardStringUnidentified(t *testing.T) {
	b := newBoard(5)
	assert.Contains(t, b.String(), "not identified")
}

func TestBoardStringIdentified(t *testing.T) {
	b := &Board{ID: 5, Connected: true, BootloaderType: 2, Version: 1, Pages: 256, Pagesize: 128}
	s := b.String()
	assert.Contains(t, s, "v1.0")
}
