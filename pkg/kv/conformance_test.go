package kv_test

import (
	"testing"

	"github.com/jakechorley/relief-coordination/pkg/kv"
	"github.com/jakechorley/relief-coordination/pkg/kv/kvtest"
)

func TestMemoryStore_Conformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s := kv.NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
