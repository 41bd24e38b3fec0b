package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"default text", Config{Level: "INFO"}},
		{"debug level", Config{Level: "DEBUG"}},
		{"json handler", Config{Level: "INFO", JSON: true}},
		{"warn level json", Config{Level: "WARN", JSON: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := Configure(tt.cfg)
			require.NotNil(t, logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"DEBUG", -4},
		{"debug", -4},
		{"INFO", 0},
		{"", 0},
		{"WARN", 4},
		{"WARNING", 4},
		{"ERROR", 8},
		{"invalid", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level := parseLevel(tt.input)
			assert.EqualValues(t, tt.want, level)
		})
	}
}
