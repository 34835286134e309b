package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization=Bearer x , =skip,broken, tenant = lend ")
	if len(got) != 2 || got["authorization"] != "Bearer x" || got["tenant"] != "lend" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing service name error")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd", Environment: "test"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	attrs := resourceAttributes(Config{ServiceName: "lendingd", Version: "1.0.0", Environment: "prod"})
	if len(attrs) != 3 {
		t.Fatalf("expected three resource attributes, got %d", len(attrs))
	}
}
