package modechan

import (
	"path/filepath"
	"testing"
)

func TestInitWritesSafeWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process_mode")
	c := New(path)
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	mode, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if mode != Safe {
		t.Fatalf("expected SAFE, got %s", mode)
	}
}

func TestReadMissingFileDefaultsSafe(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "does-not-exist"))
	mode, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if mode != Safe {
		t.Fatalf("expected SAFE default, got %s", mode)
	}
}

func TestWriteThenRead(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "process_mode"))
	if err := c.Write(Repair); err != nil {
		t.Fatalf("Write: %v", err)
	}
	mode, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if mode != Repair {
		t.Fatalf("expected REPAIR, got %s", mode)
	}
}

func TestCompareAndWriteRejectsWrongCurrent(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "process_mode"))
	if err := c.Write(Safe); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.CompareAndWrite(Repair, ValOK); err == nil {
		t.Fatalf("expected an error transitioning from an unexpected current mode")
	}
	mode, _ := c.Read()
	if mode != Safe {
		t.Fatalf("expected mode to remain SAFE after a rejected transition, got %s", mode)
	}
}

func TestCompareAndWriteAcceptsMatchingCurrent(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "process_mode"))
	if err := c.Write(Safe); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.CompareAndWrite(Safe, Repair); err != nil {
		t.Fatalf("CompareAndWrite: %v", err)
	}
	mode, _ := c.Read()
	if mode != Repair {
		t.Fatalf("expected REPAIR, got %s", mode)
	}
}

func TestModeStringAndValid(t *testing.T) {
	for _, m := range []Mode{Safe, Repair, ValOK, ValFail} {
		if !m.Valid() {
			t.Errorf("expected %v to be valid", m)
		}
		if m.String() == "UNKNOWN" {
			t.Errorf("expected a named string for %v", m)
		}
	}
	if Mode('9').Valid() {
		t.Errorf("expected an undefined byte to be invalid")
	}
}
