package inspect

import "testing"

func TestPageCountRejectsGarbage(t *testing.T) {
	if _, err := NewPDF().PageCount([]byte("definitely not a pdf")); err == nil {
		t.Error("expected an error for non-pdf input")
	}
}
