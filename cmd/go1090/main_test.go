package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"go1090/internal/app"
)

func TestConfigDefaults(t *testing.T) {
	config := app.Config{
		Frequency:    app.DefaultFrequency,
		SampleRate:   app.DefaultSampleRate,
		Gain:         app.DefaultGain,
		DeviceIndex:  0,
		LogDir:       "./logs",
		LogRotateUTC: true,
	}

	assert.Equal(t, uint32(1090000000), config.Frequency)
	assert.Equal(t, uint32(2000000), config.SampleRate)
	assert.Equal(t, 40, config.Gain)
}

func TestNewApplicationFromCLIConfig(t *testing.T) {
	config := app.Config{
		Frequency:    app.DefaultFrequency,
		SampleRate:   app.DefaultSampleRate,
		Gain:         app.DefaultGain,
		DeviceIndex:  0,
		LogDir:       "./logs",
		LogRotateUTC: true,
	}

	application := app.NewApplication(config)
	assert.NotNil(t, application)
}

func TestShowVersionPrintsToStdout(t *testing.T) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	app.ShowVersion()

	w.Close()
	os.Stdout = oldStdout

	output := make([]byte, 1024)
	n, _ := r.Read(output)
	result := string(output[:n])

	assert.Contains(t, result, "Go1090")
}

func TestBuildRootCommandFlags(t *testing.T) {
	cmd := buildRootCommand()
	assert.NotNil(t, cmd.Flags().Lookup("frequency"))
	assert.NotNil(t, cmd.Flags().Lookup("sample-rate"))
	assert.NotNil(t, cmd.Flags().Lookup("gain"))
	assert.NotNil(t, cmd.Flags().Lookup("device"))
}

func TestBuildServeCommandFlags(t *testing.T) {
	cmd := buildServeCommand()
	assert.NotNil(t, cmd.Flags().Lookup("addr"))
	assert.NotNil(t, cmd.Flags().Lookup("db"))
	assert.NotNil(t, cmd.Flags().Lookup("token"))
}
