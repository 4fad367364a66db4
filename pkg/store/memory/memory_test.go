package memory

import (
	"testing"

	"tenant-ledger/pkg/ledger"
	"tenant-ledger/pkg/store/storetest"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Repository {
		return New()
	})
}
