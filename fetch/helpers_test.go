package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/0xmhha/explorer-indexer/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *storage.PebbleStorage {
	t.Helper()

	store, err := storage.NewPebbleStorage(storage.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// flakyStore fails PutTransaction for one hash
type flakyStore struct {
	storage.Storage
	failTx common.Hash
}

func (s *flakyStore) PutTransaction(ctx context.Context, tx *storage.Transaction) error {
	if tx.Hash == s.failTx {
		return errors.New("disk full")
	}
	return s.Storage.PutTransaction(ctx, tx)
}
