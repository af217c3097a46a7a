package store_test

import (
	"path/filepath"
	"testing"

	"github.com/graftvcs/graft/enginetest"
	"github.com/graftvcs/graft/store"
)

func TestBoltEngine(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		b, err := store.OpenBolt(filepath.Join(t.TempDir(), "pristine.bolt"))
		if err != nil {
			t.Fatalf("OpenBolt: %v", err)
		}
		t.Cleanup(func() { b.Close() })
		return b
	})
}
