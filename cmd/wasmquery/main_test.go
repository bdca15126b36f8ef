package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDoMain_RunPrintsRows(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"run", "-rows", "3"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Equal(t, "", stderr.String())
	assert.Equal(t, "0\n1\n2\n3 rows\n", stdout.String())
}

func TestDoMain_RunQuiet(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"run", "-rows", "2", "-quiet"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Equal(t, "0\n1\n", stdout.String())
}

func TestDoMain_BenchReportsAllPhases(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"bench", "-n", "5", "-rows", "4"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Equal(t, "", stderr.String())
	out := stdout.String()
	assert.Contains(t, out, "5 iterations, 4 rows each")
	assert.Contains(t, out, "build:")
	assert.Contains(t, out, "compile:")
	assert.Contains(t, out, "run:")
}

func TestDoMain_BenchRejectsNonPositiveIterations(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"bench", "-n", "0"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "-n must be positive")
}

func TestDoMain_VersionAndHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, doMain([]string{"version"}, &stdout, &stderr))
	assert.Equal(t, "wasmquery dev\n", stdout.String())

	stdout.Reset()
	assert.Equal(t, 0, doMain([]string{"-h"}, &stdout, &stderr))
	assert.True(t, strings.Contains(stdout.String(), "usage: wasmquery"))
}

func TestDoMain_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain([]string{"bogus"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), `unknown command "bogus"`)
}

func TestDoMain_NoArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain(nil, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "usage: wasmquery")
}
