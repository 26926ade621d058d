package main

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestGlobalLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{in: "", want: zerolog.InfoLevel},
		{in: "trace", want: zerolog.TraceLevel},
		{in: "debug", want: zerolog.DebugLevel},
		{in: "info", want: zerolog.InfoLevel},
		{in: "WARN", want: zerolog.WarnLevel},
		{in: "error", want: zerolog.ErrorLevel},
		{in: "chatty", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := globalLevel(tt.in); got != tt.want {
				t.Errorf("globalLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
