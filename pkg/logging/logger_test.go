package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zerolog.Level
		wantErr bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{" warn ", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if tt.wantErr != errors.Is(err, ErrUnknownLevel) {
				t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		visible []string
		hidden  []string
	}{
		{"debug", []string{"debug line", "info line", "warn line"}, nil},
		{"info", []string{"info line", "warn line"}, []string{"debug line"}},
		{"warn", []string{"warn line"}, []string{"debug line", "info line"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			Setup(Config{Level: tt.level, Output: buf})

			logger := NewLogger("transport")
			logger.Debug().Msg("debug line")
			logger.Info().Msg("info line")
			logger.Warn().Msg("warn line")

			output := buf.String()
			for _, want := range tt.visible {
				if !strings.Contains(output, want) {
					t.Errorf("output missing %q: %s", want, output)
				}
			}
			for _, unwanted := range tt.hidden {
				if strings.Contains(output, unwanted) {
					t.Errorf("output should not contain %q: %s", unwanted, output)
				}
			}
		})
	}
}

func TestSetup_UnknownLevelFallsBackToInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: "loud", Output: buf})

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("global level = %v, want info", zerolog.GlobalLevel())
	}
	if !strings.Contains(buf.String(), "Falling back to info level") {
		t.Errorf("expected a fallback warning, got %q", buf.String())
	}
}

func TestSetup_Pretty(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: "info", Pretty: true, Output: buf})

	logger := NewLogger("pipeline")
	logger.Info().Msg("Pipeline complete")

	output := buf.String()
	if strings.HasPrefix(output, "{") {
		t.Errorf("pretty output should not be JSON: %q", output)
	}
	if !strings.Contains(output, "Pipeline complete") || !strings.Contains(output, "pipeline") {
		t.Errorf("unexpected pretty output %q", output)
	}
}

func TestNewLoggerAndForRun(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: "info", Output: buf})

	component := NewLogger("opensea")
	component.Info().Msg("Page fetched")
	run := ForRun("executor", "0badc0de")
	run.Info().Int("batch", 2).Msg("Batch confirmed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"component":"opensea"`) || strings.Contains(lines[0], FieldRunID) {
		t.Errorf("component line = %s", lines[0])
	}
	for _, want := range []string{`"component":"executor"`, `"run_id":"0badc0de"`, `"batch":2`} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("run line missing %s: %s", want, lines[1])
		}
	}
}
