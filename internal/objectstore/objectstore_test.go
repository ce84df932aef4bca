package objectstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	key, err := m.Put(ctx, "forms/owner-1/a.pdf", []byte("%PDF-1.4"), "application/pdf")
	if err != nil || key != "forms/owner-1/a.pdf" {
		t.Fatalf("Put = %q, %v", key, err)
	}
	data, err := m.Get(ctx, key)
	if err != nil || string(data) != "%PDF-1.4" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	u, err := m.SignedReadURL(ctx, key)
	if err != nil || !strings.HasPrefix(u, "memory://forms/owner-1/a.pdf?expires=") {
		t.Errorf("SignedReadURL = %q, %v", u, err)
	}
	if err := m.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, key); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
	if _, err := m.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestMemoryPutRejectsEmptyKey(t *testing.T) {
	if _, err := NewMemory(0).Put(context.Background(), "", nil, "image/png"); err == nil {
		t.Fatal("expected error")
	}
}
