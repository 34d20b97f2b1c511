package tracelog

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRecordAndRecent(t *testing.T) {
	l, err := Open(time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.Record("node:2", "enumerated"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record("node:2", "pinged"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record("node:3", "enumerated"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := l.Recent("node:2")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	want := []string{"enumerated", "pinged"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Recent(node:2) = %v, want %v", got, want)
	}
}

func TestRecordExpires(t *testing.T) {
	l, err := Open(time.Millisecond)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.Record("node:2", "enumerated"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	got, err := l.Recent("node:2")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Recent after TTL = %v, want empty", got)
	}
}

func TestHookRecordsLogLines(t *testing.T) {
	l, err := Open(time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	logger := zerolog.New(io.Discard).Hook(Hook{Log: l})
	logger.Info().Msg("hello")

	got, err := l.Recent(logKey)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent(log) = %v, want 1 entry", got)
	}
}
