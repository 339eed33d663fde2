package factory

import (
	"testing"

	"convertd/internal/history"
)

func TestEmptyDSNIsNop(t *testing.T) {
	sink, err := NewSinkFromDSN("")
	if err != nil {
		t.Fatalf("empty DSN: %v", err)
	}
	if _, ok := sink.(history.Nop); !ok {
		t.Fatalf("expected Nop sink, got %T", sink)
	}
}

func TestSQLiteDSNs(t *testing.T) {
	for _, dsn := range []string{":memory:", "sqlite://:memory:"} {
		sink, err := NewSinkFromDSN(dsn)
		if err != nil {
			t.Fatalf("DSN %q: %v", dsn, err)
		}
		_ = sink.Close()
	}
}

func TestUnsupportedDSN(t *testing.T) {
	if _, err := NewSinkFromDSN("redis://localhost:6379"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
