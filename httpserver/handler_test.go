package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tehmaze-labs/yubistack/interfaces"
	"github.com/tehmaze-labs/yubistack/ksm"
	"github.com/tehmaze-labs/yubistack/otp"
	"github.com/tehmaze-labs/yubistack/protocol"
	"github.com/tehmaze-labs/yubistack/storage"
	"github.com/tehmaze-labs/yubistack/val"
)

type testStack struct {
	server *Server
	router http.Handler
	record interfaces.DeviceRecord
	replay *storage.MemoryReplayStore
	secret []byte
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	publicID, err := interfaces.NewPublicID("cccccccccccc")
	require.NoError(t, err)
	privateID, err := interfaces.NewPrivateIDFromHex("8792ebfe26cc")
	require.NoError(t, err)
	key, err := interfaces.NewAESKeyFromHex("ecde18dbe76fbd0c33330f1c354871db")
	require.NoError(t, err)
	record := interfaces.DeviceRecord{PublicID: publicID, PrivateID: privateID, Key: key}

	keys := storage.NewMemoryKeyStore()
	keys.Register(record)

	secret := []byte("test-api-key")
	clients := storage.NewMemoryClientStore()
	clients.Register(interfaces.ClientCredential{ID: "1", Secret: secret})

	replay := storage.NewMemoryReplayStore()
	decryptor := ksm.New()
	engine := val.NewEngine(val.Config{
		KeyStore:    keys,
		Decryptor:   decryptor,
		ReplayStore: replay,
		Log:         log,
	})
	processor := protocol.NewProcessor(clients, storage.NewMemoryNonceLedger(time.Minute), engine, log)
	handler := NewHandler(processor, replay, keys, decryptor, log)

	server, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
		Log:                      log,
	}, handler)
	require.NoError(t, err)

	return &testStack{
		server: server,
		router: server.getRouter(),
		record: record,
		replay: replay,
		secret: secret,
	}
}

func (s *testStack) mint(counter uint16, session uint8, random uint16) string {
	return ksm.MintOTP(s.record, otp.Token{
		Counter:       counter,
		TimestampLow:  0x7d32,
		TimestampHigh: 0x1b,
		Session:       session,
		Random:        random,
	})
}

func (s *testStack) verify(t *testing.T, rawOTP string) map[string]string {
	t.Helper()
	values := url.Values{"id": {"1"}, "otp": {rawOTP}}
	req := httptest.NewRequest(http.MethodGet, "/wsapi/2.0/verify?"+values.Encode(), nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return protocol.ParseResponse(rec.Body.String())
}

func TestVerify_EndToEnd(t *testing.T) {
	stack := newTestStack(t)

	first := stack.mint(1, 0, 0x0bad)
	resp := stack.verify(t, first)
	assert.Equal(t, "OK", resp["status"])
	assert.True(t, protocol.VerifySignature(resp, stack.secret, resp["h"]))

	// The same OTP replayed.
	resp = stack.verify(t, first)
	assert.Equal(t, "REPLAYED_OTP", resp["status"])

	// A freshly encrypted block carrying the same counters.
	resp = stack.verify(t, stack.mint(1, 0, 0xbeef))
	assert.Equal(t, "REPLAYED_OTP", resp["status"])

	// The next counter value.
	resp = stack.verify(t, stack.mint(2, 0, 0x0001))
	assert.Equal(t, "OK", resp["status"])
}

func TestVerify_PostForm(t *testing.T) {
	stack := newTestStack(t)

	values := url.Values{"id": {"1"}, "otp": {stack.mint(1, 0, 1)}}
	req := httptest.NewRequest(http.MethodPost, "/wsapi/2.0/verify", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	stack.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", protocol.ParseResponse(rec.Body.String())["status"])
}

func TestDecrypt_Endpoint(t *testing.T) {
	stack := newTestStack(t)

	get := func(rawOTP string) string {
		req := httptest.NewRequest(http.MethodGet, "/wsapi/decrypt?otp="+rawOTP, nil)
		rec := httptest.NewRecorder()
		stack.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}

	body := get(stack.mint(0x1234, 0x56, 1))
	assert.Equal(t, "OK counter=1234 low=7d32 high=1b use=56\n", body)

	assert.Equal(t, "ERR Invalid OTP format\n", get("not-modhex"))

	// Well-formed OTP for an unprovisioned device.
	unknown := stack.record
	unknown.PublicID = interfaces.PublicID("dddddddddddd")
	assert.Equal(t, "ERR Unknown yubikey\n", get(ksm.MintOTP(unknown, otp.Token{Counter: 1})))

	// Valid device, ciphertext that fails CRC under its key.
	impostor := stack.record
	wrongKey, err := interfaces.NewAESKeyFromHex("00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	impostor.Key = wrongKey
	assert.Equal(t, "ERR Corrupt OTP\n", get(ksm.MintOTP(impostor, otp.Token{Counter: 1})))
}

func TestSync_MergesNewerState(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	push := func(counter, use string) *httptest.ResponseRecorder {
		values := url.Values{
			"yk_publicname": {"cccccccccccc"},
			"yk_counter":    {counter},
			"yk_use":        {use},
			"yk_low":        {"100"},
			"yk_high":       {"2"},
			"modified":      {"1700000000"},
			"nonce":         {"0123456789abcdef0123456789abcdef"},
		}
		req := httptest.NewRequest(http.MethodPost, "/wsapi/2.0/sync", strings.NewReader(values.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		stack.router.ServeHTTP(rec, req)
		return rec
	}

	rec := push("5", "2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", protocol.ParseResponse(rec.Body.String())["status"])

	state, err := stack.replay.Get(ctx, stack.record.PublicID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, uint16(5), state.Counter)

	// An older push is acknowledged but does not move the mark back.
	rec = push("4", "9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", protocol.ParseResponse(rec.Body.String())["status"])

	state, err = stack.replay.Get(ctx, stack.record.PublicID)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), state.Counter)
	assert.Equal(t, uint8(2), state.Session)

	// A validation at or below the synced mark is now a replay.
	resp := stack.verify(t, stack.mint(5, 1, 1))
	assert.Equal(t, "REPLAYED_OTP", resp["status"])
	resp = stack.verify(t, stack.mint(6, 0, 1))
	assert.Equal(t, "OK", resp["status"])

	// Garbage is rejected outright.
	rec = push("not-a-number", "0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DrainGatesVerify(t *testing.T) {
	stack := newTestStack(t)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		stack.router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	assert.Equal(t, http.StatusOK, get("/drain").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		get("/wsapi/2.0/verify?id=1&otp="+stack.mint(1, 0, 1)).Code)

	assert.Equal(t, http.StatusOK, get("/undrain").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)
	resp := stack.verify(t, stack.mint(1, 0, 2))
	assert.Equal(t, "OK", resp["status"])
}
