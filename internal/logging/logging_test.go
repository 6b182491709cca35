package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomy-av/roomlink/internal/config"
)

func TestAutoFormatIsJSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "info", Format: "auto"}, &buf)

	Component(log, "link").WithField("room", "r1").Info("room connection established")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "link", line["component"])
	assert.Equal(t, "r1", line["room"])
	assert.Equal(t, "room connection established", line["msg"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	log.Info("hello")
	assert.True(t, strings.Contains(buf.String(), `msg=hello`), buf.String())
}

func TestLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	log.Info("hidden")
	assert.Empty(t, buf.String())
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())

	log = NewWithWriter(config.LoggingConfig{Level: "chatty", Format: "json"}, &buf)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
