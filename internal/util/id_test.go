package util

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewIDIsUUID(t *testing.T) {
	id := NewID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("NewID() = %q is not a uuid: %v", id, err)
	}
	if NewID() == id {
		t.Fatal("expected distinct ids")
	}
}

func TestNewSequenceIDIsIncreasing(t *testing.T) {
	prev := NewSequenceID()
	for i := 0; i < 1000; i++ {
		next := NewSequenceID()
		if next <= prev {
			t.Fatalf("sequence id %d not greater than previous %d", next, prev)
		}
		prev = next
	}
}
