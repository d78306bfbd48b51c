package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord(t *testing.T) interfaces.DeviceRecord {
	t.Helper()

	publicID, err := interfaces.NewPublicID("cccccccb")
	require.NoError(t, err)
	privateID, err := interfaces.NewPrivateIDFromHex("8792ebfe26cc")
	require.NoError(t, err)
	key, err := interfaces.NewAESKeyFromHex("ecde18dbe76fbd0c33330f1c354871db")
	require.NoError(t, err)

	return interfaces.DeviceRecord{
		PublicID:  publicID,
		PrivateID: privateID,
		Key:       key,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemoryKeyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKeyStore()
	record := testRecord(t)

	_, err := store.Lookup(ctx, record.PublicID)
	assert.ErrorIs(t, err, interfaces.ErrNoSuchDevice)

	store.Register(record)
	got, err := store.Lookup(ctx, record.PublicID)
	require.NoError(t, err)
	assert.Equal(t, record.Key, got.Key)
	assert.Equal(t, record.PrivateID, got.PrivateID)

	store.Remove(record.PublicID)
	_, err = store.Lookup(ctx, record.PublicID)
	assert.ErrorIs(t, err, interfaces.ErrNoSuchDevice)
}

func TestFileKeyStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileKeyStore(t.TempDir(), discardLogger())
	require.NoError(t, err)
	record := testRecord(t)

	_, err = store.Lookup(ctx, record.PublicID)
	assert.ErrorIs(t, err, interfaces.ErrNoSuchDevice)

	require.NoError(t, store.Register(record))

	got, err := store.Lookup(ctx, record.PublicID)
	require.NoError(t, err)
	assert.Equal(t, record.PublicID, got.PublicID)
	assert.Equal(t, record.PrivateID, got.PrivateID)
	assert.Equal(t, record.Key, got.Key)

	require.NoError(t, store.Remove(record.PublicID))
	_, err = store.Lookup(ctx, record.PublicID)
	assert.ErrorIs(t, err, interfaces.ErrNoSuchDevice)
}

func TestFileKeyStore_RejectsCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileKeyStore(dir, discardLogger())
	require.NoError(t, err)

	publicID, err := interfaces.NewPublicID("cccccccb")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cccccccb.json"), []byte("{"), 0600))

	_, err = store.Lookup(context.Background(), publicID)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

func replayState(counter uint16, session uint8) interfaces.ReplayState {
	return interfaces.ReplayState{
		Counter:  counter,
		Session:  session,
		LastSeen: time.Now().UTC(),
	}
}

func testReplayStoreCAS(t *testing.T, store interfaces.ReplayStore) {
	t.Helper()
	ctx := context.Background()
	id, err := interfaces.NewPublicID("cccccccb")
	require.NoError(t, err)

	// No state yet.
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Create-if-absent succeeds exactly once.
	ok, err := store.CompareAndSet(ctx, id, nil, replayState(1, 0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CompareAndSet(ctx, id, nil, replayState(2, 0))
	require.NoError(t, err)
	assert.False(t, ok, "second create must lose")

	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint16(1), got.Counter)

	// Stale expectation loses, fresh expectation wins.
	stale := replayState(0, 7)
	ok, err = store.CompareAndSet(ctx, id, &stale, replayState(3, 0))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareAndSet(ctx, id, got, replayState(2, 1))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint16(2), got.Counter)
	assert.Equal(t, uint8(1), got.Session)
}

func TestMemoryReplayStore_CompareAndSet(t *testing.T) {
	testReplayStoreCAS(t, NewMemoryReplayStore())
}

func TestFileReplayStore_CompareAndSet(t *testing.T) {
	store, err := NewFileReplayStore(t.TempDir(), discardLogger())
	require.NoError(t, err)
	testReplayStoreCAS(t, store)
}

func TestMemoryReplayStore_ConcurrentCreateAdmitsOne(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReplayStore()
	id, err := interfaces.NewPublicID("cccccccb")
	require.NoError(t, err)

	const workers = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CompareAndSet(ctx, id, nil, replayState(1, 0))
			assert.NoError(t, err)
			if ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one creator must win")
}

func TestFileReplayStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	id, err := interfaces.NewPublicID("cccccccb")
	require.NoError(t, err)

	store, err := NewFileReplayStore(dir, discardLogger())
	require.NoError(t, err)
	ok, err := store.CompareAndSet(ctx, id, nil, replayState(5, 3))
	require.NoError(t, err)
	require.True(t, ok)

	reopened, err := NewFileReplayStore(dir, discardLogger())
	require.NoError(t, err)
	got, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint16(5), got.Counter)
	assert.Equal(t, uint8(3), got.Session)
}

func TestMemoryNonceLedger_Window(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	ledger := NewMemoryNonceLedger(time.Minute)
	ledger.now = func() time.Time { return now }

	fresh, err := ledger.Remember(ctx, "client-1", "abcdef0123456789")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = ledger.Remember(ctx, "client-1", "abcdef0123456789")
	require.NoError(t, err)
	assert.False(t, fresh, "same nonce within window is a replay")

	// Other clients and other nonces are independent.
	fresh, err = ledger.Remember(ctx, "client-2", "abcdef0123456789")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = ledger.Remember(ctx, "client-1", "abcdef9876543210")
	require.NoError(t, err)
	assert.True(t, fresh)

	// Once the window passes the nonce may be reused.
	now = now.Add(2 * time.Minute)
	fresh, err = ledger.Remember(ctx, "client-1", "abcdef0123456789")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestLoadClientsFile(t *testing.T) {
	docs := []clientDocument{
		{ID: "1", Secret: "bWlrZXlWS2V5", AllowedDevices: []string{"cccccccb"}},
		{ID: "2", Secret: ""},
	}
	data, err := json.Marshal(docs)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "clients.json")
	require.NoError(t, os.WriteFile(path, data, 0600))

	store, err := LoadClientsFile(path)
	require.NoError(t, err)

	ctx := context.Background()
	credential, err := store.LookupClient(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("mikeyVKey"), credential.Secret)

	allowed, err := interfaces.NewPublicID("cccccccb")
	require.NoError(t, err)
	assert.True(t, credential.DeviceAllowed(allowed))
	denied, err := interfaces.NewPublicID("cccccccd")
	require.NoError(t, err)
	assert.False(t, credential.DeviceAllowed(denied))

	// Client 2 has no allow list, so every device passes.
	credential, err = store.LookupClient(ctx, "2")
	require.NoError(t, err)
	assert.True(t, credential.DeviceAllowed(denied))

	_, err = store.LookupClient(ctx, "3")
	assert.ErrorIs(t, err, interfaces.ErrNoSuchClient)
}

func TestFactory_SchemeDispatch(t *testing.T) {
	factory := NewFactory(discardLogger())

	keyStore, err := factory.KeyStoreFor("memory://")
	require.NoError(t, err)
	assert.IsType(t, &MemoryKeyStore{}, keyStore)

	keyStore, err = factory.KeyStoreFor("file://" + t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &FileKeyStore{}, keyStore)

	_, err = factory.KeyStoreFor("derived://c0ffee")
	assert.Error(t, err, "short master secret must be rejected")

	_, err = factory.KeyStoreFor("gopher://example")
	assert.Error(t, err)

	replayStore, err := factory.ReplayStoreFor("memory://")
	require.NoError(t, err)
	assert.IsType(t, &MemoryReplayStore{}, replayStore)

	ledger, err := factory.NonceLedgerFor("memory://", time.Minute)
	require.NoError(t, err)
	assert.IsType(t, &MemoryNonceLedger{}, ledger)
}
