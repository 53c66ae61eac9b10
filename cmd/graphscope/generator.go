package main

import (
	"fmt"
	"path/filepath"
	"strings"
)

// bootstrapGenerator is the composition root's stand-in for the
// external artifact-generation collaborator. It emits a minimal shim
// and entry wrapper so the bundled runtime instrumentation can locate
// the workflow and the session port; a richer generator can be
// swapped in without touching the session core.
type bootstrapGenerator struct{}

func (bootstrapGenerator) Shim(sourcePath string, port int) (string, []byte, error) {
	content := fmt.Sprintf(`"""Generated by graphscope. Do not edit."""
GRAPHSCOPE_PORT = %d
WORKFLOW_PATH = %q
WORKFLOW_MODULE = %q
`, port, sourcePath, moduleName(sourcePath))
	return "graphscope_shim.py", []byte(content), nil
}

func (bootstrapGenerator) Entry(sourcePath, shimPath string) (string, []byte, error) {
	content := fmt.Sprintf(`"""Generated by graphscope. Do not edit."""
import sys

sys.path.insert(0, %q)
sys.path.insert(0, %q)

import graphscope_shim
from graphscope_runtime import run_instrumented

run_instrumented(graphscope_shim.WORKFLOW_PATH, graphscope_shim.GRAPHSCOPE_PORT)
`, filepath.Dir(shimPath), filepath.Dir(sourcePath))
	return "graphscope_entry.py", []byte(content), nil
}

func moduleName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
