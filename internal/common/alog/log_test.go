package alog

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cachedEntry() *log.Entry {
	return Logger().WithField("component", "test")
}

func writeLine(e *log.Entry) {
	e.Info("hello")
}

func TestCachedEntryReportsLogSite(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stdout)
	require.NoError(t, Configure("info", "json"))

	entry := cachedEntry()
	writeLine(entry)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "test", line["component"])
	assert.Equal(t, "writeLine", line[log.FieldKeyFunc])
	file, _ := line[log.FieldKeyFile].(string)
	assert.True(t, strings.HasPrefix(file, "alog/log_test.go:"), file)
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Configure("loud", "json"))
	assert.NoError(t, Configure("debug", "text"))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	require.NoError(t, Configure("info", "json"))
}
