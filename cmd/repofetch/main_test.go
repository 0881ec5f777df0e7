package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_UnknownCommand(t *testing.T) {
	err := run([]string{"deploy"})
	assert.ErrorContains(t, err, "unknown command: deploy")
}

func TestRun_Usage(t *testing.T) {
	assert.ErrorContains(t, run([]string{"cache"}), "usage: repofetch cache")
	assert.ErrorContains(t, run([]string{"fetch"}), "usage: repofetch fetch")
}
