package docsource

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func doc(name string) Document {
	return Document{Name: name, ContentType: "application/pdf", Data: []byte("%PDF-1.7 " + name)}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	ref, err := reg.Create(doc("a"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(ref.String(), "blob:") {
		t.Errorf("reference %q lacks blob: prefix", ref)
	}
	if got := Fingerprint(ref); got != doc("a").Fingerprint() {
		t.Errorf("Fingerprint(%q) = %q, want %q", ref, got, doc("a").Fingerprint())
	}
	if got, err := reg.Resolve(ref); err != nil || got.Name != "a" {
		t.Fatalf("Resolve = %v, %v", got.Name, err)
	}
	if reg.Live() != 1 {
		t.Errorf("Live() = %d, want 1", reg.Live())
	}
	if err := reg.Revoke(ref); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := reg.Revoke(ref); !errors.Is(err, ErrReleased) {
		t.Errorf("second Revoke error = %v, want ErrReleased", err)
	}
	if _, err := reg.Resolve(ref); !errors.Is(err, ErrReleased) {
		t.Errorf("Resolve after revoke error = %v, want ErrReleased", err)
	}
	if reg.Live() != 0 {
		t.Errorf("Live() = %d, want 0", reg.Live())
	}
}

func TestRegistryRejectsEmpty(t *testing.T) {
	if _, err := NewRegistry().Create(Document{Name: "empty"}); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("Create(empty) error = %v, want ErrEmptyDocument", err)
	}
}

func TestSameContentDistinctReferences(t *testing.T) {
	reg := NewRegistry()
	r1, _ := reg.Create(doc("x"))
	r2, _ := reg.Create(doc("x"))
	if r1 == r2 {
		t.Errorf("two creates returned the same reference %q", r1)
	}
	if Fingerprint(r1) != Fingerprint(r2) {
		t.Error("same content produced different fingerprints")
	}
}

func TestSourceReleasesBeforeActivate(t *testing.T) {
	reg := NewRegistry()
	src := NewSource(reg, nil)

	var prev Reference
	for i := 0; i < 5; i++ {
		ref, err := src.Activate(doc(fmt.Sprint(i)))
		if err != nil {
			t.Fatalf("Activate %d: %v", i, err)
		}
		if reg.Live() != 1 {
			t.Fatalf("after activate %d: Live() = %d, want 1", i, reg.Live())
		}
		if prev != "" {
			if _, err := reg.Resolve(prev); !errors.Is(err, ErrReleased) {
				t.Errorf("previous reference %q still live", prev)
			}
		}
		prev = ref
	}
	if src.Current() != prev {
		t.Errorf("Current() = %q, want %q", src.Current(), prev)
	}
}

func TestSourceAcquireReleaseBalance(t *testing.T) {
	sequences := [][]string{
		{},
		{"activate"},
		{"activate", "activate", "activate"},
		{"activate", "release", "release", "activate"},
		{"release", "activate", "fail", "activate"},
	}
	for i, seq := range sequences {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			reg := NewRegistry()
			src := NewSource(reg, nil)
			for j, op := range seq {
				switch op {
				case "activate":
					if _, err := src.Activate(doc(fmt.Sprint(j))); err != nil {
						t.Fatalf("Activate: %v", err)
					}
				case "fail":
					if _, err := src.Activate(Document{}); err == nil {
						t.Fatal("Activate(empty) succeeded")
					}
				case "release":
					src.Release()
				}
			}
			src.Close()
			if src.Acquired() != src.Released() {
				t.Errorf("acquired %d != released %d", src.Acquired(), src.Released())
			}
			if reg.Live() != 0 {
				t.Errorf("Live() = %d after Close, want 0", reg.Live())
			}
		})
	}
}

func TestSourceClosedRefusesActivate(t *testing.T) {
	reg := NewRegistry()
	src := NewSource(reg, nil)
	src.Close()
	if _, err := src.Activate(doc("late")); !errors.Is(err, ErrNoDocument) {
		t.Errorf("Activate after Close error = %v, want ErrNoDocument", err)
	}
	if reg.Live() != 0 {
		t.Errorf("Live() = %d, want 0", reg.Live())
	}
}
