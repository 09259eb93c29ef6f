package sysutil

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetLogLevel_AllVariants(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"  DeBuG  ", zerolog.DebugLevel}, // case + trim
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel}, // empty -> info
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel}, // alias
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel}, // default
	}

	for _, tc := range cases {
		SetLogLevel(tc.in)
		if got := zerolog.GlobalLevel(); got != tc.want {
			t.Fatalf("SetLogLevel(%q) -> %v; want %v", tc.in, got, tc.want)
		}
	}
}

func TestIsTruthy(t *testing.T) {
	trues := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	falses := []string{"", "0", "false", "no", "off", "n", "  ", "random"}

	for _, v := range trues {
		if !IsTruthy(v) {
			t.Fatalf("IsTruthy(%q) = false; want true", v)
		}
	}
	for _, v := range falses {
		if IsTruthy(v) {
			t.Fatalf("IsTruthy(%q) = true; want false", v)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want string
	}{
		{"none", nil, ""},
		{"all blank", []string{" ", "\t", "\n"}, ""},
		{"skips blank, keeps spacing", []string{"   ", "  call_1  ", "call_2"}, "  call_1  "},
		{"first wins", []string{"notes", "details"}, "notes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FirstNonEmpty(tc.in...); got != tc.want {
				t.Fatalf("FirstNonEmpty(%q) = %q; want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSetupLogging_JSONAndContextDefault(t *testing.T) {
	origLevel := zerolog.GlobalLevel()
	origLogger := log.Logger
	origCtx := zerolog.DefaultContextLogger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(origLevel)
		log.Logger = origLogger
		zerolog.DefaultContextLogger = origCtx
	})

	var buf bytes.Buffer
	l := SetupLogging(&buf, "warn", false)
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("level = %v; want warn", zerolog.GlobalLevel())
	}

	l.Info().Msg("dropped")
	zerolog.Ctx(context.Background()).Warn().Str("call_id", "call_1").Msg("kept")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line written at warn level: %s", out)
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(out), &line); err != nil {
		t.Fatalf("want one JSON line, got %q: %v", out, err)
	}
	if line["message"] != "kept" || line["call_id"] != "call_1" || line["time"] == nil {
		t.Fatalf("unexpected line: %v", line)
	}
}

func TestSetupLogging_Pretty(t *testing.T) {
	origLevel := zerolog.GlobalLevel()
	origLogger := log.Logger
	origCtx := zerolog.DefaultContextLogger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(origLevel)
		log.Logger = origLogger
		zerolog.DefaultContextLogger = origCtx
	})

	var buf bytes.Buffer
	SetupLogging(&buf, "", true)
	log.Info().Msg("listening")
	out := buf.String()
	if !strings.Contains(out, "listening") || strings.HasPrefix(out, "{") {
		t.Fatalf("want console output, got %q", out)
	}
}
