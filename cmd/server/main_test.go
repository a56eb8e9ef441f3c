package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/retry"
)

func TestNewLogger(t *testing.T) {
	_, err := newLogger(config.LogConf{Level: "debug", Format: "json"})
	require.NoError(t, err)
	_, err = newLogger(config.LogConf{Level: "loud", Format: "text"})
	assert.Error(t, err)
	_, err = newLogger(config.LogConf{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "drain")
}

func TestDrainCmd_EmptyQueue(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hrguard.yaml")
	body := fmt.Sprintf("version: v1\nlog: {level: error}\nstorage: {sqlite_path: %q}\n", filepath.Join(dir, "hrguard.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "drain", "--batch-size", "5"})
	require.NoError(t, root.Execute())

	var res retry.DrainResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Zero(t, res.DueCount)
}
