package store_test

import (
	"testing"

	"github.com/graftvcs/graft/enginetest"
	"github.com/graftvcs/graft/store"
)

func TestMemoryEngine(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}
