package health

import (
	"context"
	"errors"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func TestStatusWithoutDatabase(t *testing.T) {
	status, ok := NewService(nil).Status(context.Background())
	if !ok || status["store"] != "memory" {
		t.Fatalf("unexpected status: %v %v", status, ok)
	}
}

func TestStatusReportsDatabaseFailure(t *testing.T) {
	status, ok := NewService(fakePinger{err: errors.New("connection refused")}).Status(context.Background())
	if ok {
		t.Fatalf("expected not ok")
	}
	if status["database"] != "connection refused" {
		t.Fatalf("unexpected database detail: %v", status["database"])
	}

	status, ok = NewService(fakePinger{}).Status(context.Background())
	if !ok || status["database"] != "ok" {
		t.Fatalf("unexpected status: %v %v", status, ok)
	}
}
