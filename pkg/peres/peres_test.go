package peres

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wevtflow/wevtflow/pkg/testing/generators"
)

func TestExtractWEVTTemplates(t *testing.T) {
	blobA := []byte("CRIM-first-resource")
	blobB := []byte("CRIM-second-resource-longer")
	image := generators.BuildPE([][]byte{blobA, blobB})

	got, err := ExtractWEVTTemplates(image)
	if err != nil {
		t.Fatalf("ExtractWEVTTemplates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d resources, want 2", len(got))
	}
	if !bytes.Equal(got[0], blobA) {
		t.Errorf("resource 0 = %q, want %q", got[0], blobA)
	}
	if !bytes.Equal(got[1], blobB) {
		t.Errorf("resource 1 = %q, want %q", got[1], blobB)
	}
}

func TestExtractWEVTTemplates_CopiesOut(t *testing.T) {
	blob := []byte("CRIM-data")
	image := generators.BuildPE([][]byte{blob})

	got, err := ExtractWEVTTemplates(image)
	if err != nil {
		t.Fatalf("ExtractWEVTTemplates: %v", err)
	}

	for i := range image {
		image[i] = 0
	}
	if !bytes.Equal(got[0], blob) {
		t.Error("extracted resource shares memory with the input image")
	}
}

func TestExtractWEVTTemplates_NoResources(t *testing.T) {
	image := generators.BuildPE(nil)

	got, err := ExtractWEVTTemplates(image)
	if err != nil {
		t.Fatalf("ExtractWEVTTemplates: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d resources, want 0", len(got))
	}
}

func TestExtractWEVTTemplates_NotPE(t *testing.T) {
	_, err := ExtractWEVTTemplates([]byte("definitely not a PE image"))
	if !errors.Is(err, ErrNotPE) {
		t.Errorf("err = %v, want ErrNotPE", err)
	}
}
