package persidict_test

import (
	"errors"
	"testing"

	"github.com/adrianmcphee/persidict"
)

// failingCloser wraps a PersiDict and forces Close to fail, so container
// tests can observe the "collects first error, still closes all" behavior
// without depending on any real backend ever failing to close.
type failingCloser struct {
	persidict.PersiDict
	closeErr error
	closed   bool
}

func (f *failingCloser) Close() error {
	f.closed = true
	return f.closeErr
}

func TestMultiFormatContainerFormatAndFormats(t *testing.T) {
	jsonStore := persidict.NewMemoryBackend(persidict.DefaultConfig())
	gobStore := persidict.NewMemoryBackend(persidict.DefaultConfig())

	container := persidict.NewMultiFormatContainer(map[string]persidict.PersiDict{
		"json": jsonStore,
		"gob":  gobStore,
	})

	if got := container.Format("json"); got != jsonStore {
		t.Errorf("Format(%q) = %v, want the registered json store", "json", got)
	}
	if got := container.Format("gob"); got != gobStore {
		t.Errorf("Format(%q) = %v, want the registered gob store", "gob", got)
	}
	if got := container.Format("xml"); got != nil {
		t.Errorf("Format(%q) = %v, want nil for an unregistered name", "xml", got)
	}

	names := container.Formats()
	if len(names) != 2 {
		t.Fatalf("Formats() = %v, want 2 entries", names)
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["json"] || !seen["gob"] {
		t.Errorf("Formats() = %v, want json and gob", names)
	}
}

func TestMultiFormatContainerDefensiveClone(t *testing.T) {
	jsonStore := persidict.NewMemoryBackend(persidict.DefaultConfig())
	formats := map[string]persidict.PersiDict{"json": jsonStore}

	container := persidict.NewMultiFormatContainer(formats)

	formats["gob"] = persidict.NewMemoryBackend(persidict.DefaultConfig())
	delete(formats, "json")

	if container.Format("json") != jsonStore {
		t.Error("mutating the caller's map after construction should not affect the container")
	}
	if container.Format("gob") != nil {
		t.Error("mutating the caller's map after construction should not affect the container")
	}
}

func TestMultiFormatContainerCloseCollectsFirstErrorButClosesAll(t *testing.T) {
	failFirst := &failingCloser{
		PersiDict: persidict.NewMemoryBackend(persidict.DefaultConfig()),
		closeErr:  errors.New("json close failed"),
	}
	failSecond := &failingCloser{
		PersiDict: persidict.NewMemoryBackend(persidict.DefaultConfig()),
		closeErr:  errors.New("gob close failed"),
	}
	clean := &failingCloser{
		PersiDict: persidict.NewMemoryBackend(persidict.DefaultConfig()),
	}

	container := persidict.NewMultiFormatContainer(map[string]persidict.PersiDict{
		"json": failFirst,
		"gob":  failSecond,
		"txt":  clean,
	})

	err := container.Close()
	if err == nil {
		t.Fatal("Close should report an error when any format fails to close")
	}
	if !failFirst.closed || !failSecond.closed || !clean.closed {
		t.Error("Close should attempt every format even after one fails")
	}
}

func TestMultiFormatContainerCloseSucceedsWhenAllFormatsClose(t *testing.T) {
	container := persidict.NewMultiFormatContainer(map[string]persidict.PersiDict{
		"json": persidict.NewMemoryBackend(persidict.DefaultConfig()),
		"gob":  persidict.NewMemoryBackend(persidict.DefaultConfig()),
	})
	if err := container.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}
