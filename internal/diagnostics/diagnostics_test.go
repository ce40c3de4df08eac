package diagnostics

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-logr/logr/funcr"
)

func TestLogSink_WritesStructuredEntry(t *testing.T) {
	var lines []string
	log := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{})

	LogSink{Log: log}.Report(Diagnostic{Extension: "helm", Phase: PhaseModel, Err: errors.New("boom")})

	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	for _, want := range []string{`"extension"="helm"`, `"phase"="model"`, `"error"="boom"`} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("expected %s in %q", want, lines[0])
		}
	}
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi(a, nil, b).Report(Diagnostic{Extension: "x", Phase: PhaseBuild, Err: errors.New("e")})

	if len(a.Diagnostics()) != 1 || len(b.Diagnostics()) != 1 {
		t.Fatalf("expected both recorders to receive the diagnostic")
	}
}

func TestRecovered(t *testing.T) {
	cause := errors.New("cause")
	if err := Recovered(cause); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if err := Recovered("text"); err == nil || !strings.Contains(err.Error(), "text") {
		t.Fatalf("expected panic text in error, got %v", err)
	}
}
