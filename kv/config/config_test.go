package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	conf := NewDefaultConfig()
	assert.Equal(t, CCTypeStrongStrict2PL, conf.CCType)
	assert.Equal(t, 30*time.Second, conf.TxnTimeout.Duration)
	assert.Nil(t, conf.Validate())
}

func TestValidate(t *testing.T) {
	conf := NewTestConfig("optimistic")
	assert.NotNil(t, conf.Validate())

	conf = NewTestConfig(CCTypeMVCC)
	conf.TxnTimeout.Duration = -time.Second
	assert.NotNil(t, conf.Validate())

	// The multi-node placeholders only produce a warning.
	conf = NewTestConfig(CCTypeTimestampBased)
	conf.Branch = "Branch 1"
	conf.Hostname = "localhost"
	conf.Port = "8080"
	assert.Nil(t, conf.Validate())
}

func TestLoadFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "tinyledger-config")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "ledger.toml")
	content := `
cc-type = "strict-timestamp-based"
txn-timeout = "1m30s"
log-level = "debug"
branch = "Branch 1"
`
	require.Nil(t, ioutil.WriteFile(path, []byte(content), 0644))

	conf := NewDefaultConfig()
	require.Nil(t, conf.LoadFile(path))
	assert.Equal(t, CCTypeStrictTimestampBased, conf.CCType)
	assert.Equal(t, 90*time.Second, conf.TxnTimeout.Duration)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, "Branch 1", conf.Branch)
	assert.Nil(t, conf.Validate())
}

func TestLoadFileBadDuration(t *testing.T) {
	dir, err := ioutil.TempDir("", "tinyledger-config")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "ledger.toml")
	require.Nil(t, ioutil.WriteFile(path, []byte(`txn-timeout = "soon"`), 0644))

	conf := NewDefaultConfig()
	assert.NotNil(t, conf.LoadFile(path))
}
