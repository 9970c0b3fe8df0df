package logging

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestNewLoggerWithServiceStampsEntries(t *testing.T) {
	l := NewLoggerWithService("svc-a")
	l.SetOutput(io.Discard)
	WithReplica(l, "r1")
	hook := test.NewLocal(l)

	l.WithField("k", "v").Info("hello")

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected an entry")
	}
	if entry.Data["service"] != "svc-a" {
		t.Fatalf("expected service field, got %v", entry.Data)
	}
	if entry.Data["replica"] != "r1" {
		t.Fatalf("expected replica field, got %v", entry.Data)
	}
}
