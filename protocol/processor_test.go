package protocol

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tehmaze-labs/yubistack/interfaces"
	"github.com/tehmaze-labs/yubistack/storage"
	"github.com/tehmaze-labs/yubistack/val"
)

const (
	testOTP    = "vvcccccbktfncbbhdufhhhehkclbgthdndnjjdklkcvt"
	testPublic = "vvcccccbktfn"
	testNonce  = "0123456789abcdef"
)

// cannedValidator returns a fixed result without touching crypto.
type cannedValidator struct {
	result val.Result
}

func (v *cannedValidator) Validate(ctx context.Context, rawOTP string) val.Result {
	return v.result
}

func okResult(t *testing.T) val.Result {
	t.Helper()
	id, err := interfaces.NewPublicID(testPublic)
	require.NoError(t, err)
	return val.Result{
		Status:    interfaces.StatusOK,
		PublicID:  id,
		Counter:   7,
		Session:   2,
		Timestamp: 0x123456,
	}
}

func testProcessor(t *testing.T, secret []byte, result val.Result) (*Processor, *storage.MemoryClientStore) {
	t.Helper()
	clients := storage.NewMemoryClientStore()
	clients.Register(interfaces.ClientCredential{ID: "1", Secret: secret})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProcessor(clients, storage.NewMemoryNonceLedger(time.Minute), &cannedValidator{result: result}, log), clients
}

func processStatus(t *testing.T, p *Processor, values url.Values) (interfaces.Status, map[string]string) {
	t.Helper()
	body := p.Process(context.Background(), values)
	params := ParseResponse(body)
	require.Contains(t, params, "status")
	require.Contains(t, params, "t")
	require.Contains(t, params, "h")
	return interfaces.Status(params["status"]), params
}

func TestProcessor_MissingParameters(t *testing.T) {
	p, _ := testProcessor(t, nil, okResult(t))

	status, _ := processStatus(t, p, url.Values{"otp": {testOTP}})
	assert.Equal(t, interfaces.StatusMissingParameter, status, "missing id")

	status, _ = processStatus(t, p, url.Values{"id": {"1"}})
	assert.Equal(t, interfaces.StatusMissingParameter, status, "missing otp")

	status, _ = processStatus(t, p, url.Values{"id": {"1"}, "otp": {testOTP}, "nonce": {"nope"}})
	assert.Equal(t, interfaces.StatusMissingParameter, status, "malformed nonce")
}

func TestProcessor_NoSuchClient(t *testing.T) {
	p, _ := testProcessor(t, nil, okResult(t))

	status, _ := processStatus(t, p, url.Values{"id": {"42"}, "otp": {testOTP}})
	assert.Equal(t, interfaces.StatusNoSuchClient, status)
}

func TestProcessor_SignatureOutranksOTP(t *testing.T) {
	secret := []byte("test-api-key")
	p, _ := testProcessor(t, secret, okResult(t))

	// A wrong signature is rejected even though the OTP would validate.
	values := url.Values{"id": {"1"}, "otp": {testOTP}, "nonce": {testNonce}, "h": {"bm90IGEgc2lnbmF0dXJl"}}
	status, _ := processStatus(t, p, values)
	assert.Equal(t, interfaces.StatusBadSignature, status)

	// With the correct signature the same request passes.
	params := map[string]string{"id": "1", "otp": testOTP, "nonce": testNonce}
	values.Set("h", Sign(params, secret))
	status, resp := processStatus(t, p, values)
	assert.Equal(t, interfaces.StatusOK, status)

	// And the response itself verifies under the client secret.
	assert.True(t, VerifySignature(resp, secret, resp["h"]))
	assert.Equal(t, testOTP, resp["otp"])
	assert.Equal(t, testNonce, resp["nonce"])
}

func TestProcessor_NonceReplay(t *testing.T) {
	p, _ := testProcessor(t, nil, okResult(t))
	values := url.Values{"id": {"1"}, "otp": {testOTP}, "nonce": {testNonce}}

	status, _ := processStatus(t, p, values)
	assert.Equal(t, interfaces.StatusOK, status)

	status, _ = processStatus(t, p, values)
	assert.Equal(t, interfaces.StatusReplayedRequest, status)

	// A fresh nonce is accepted again.
	values.Set("nonce", "fedcba9876543210")
	status, _ = processStatus(t, p, values)
	assert.Equal(t, interfaces.StatusOK, status)
}

func TestProcessor_DeviceAllowList(t *testing.T) {
	p, clients := testProcessor(t, nil, okResult(t))

	other, err := interfaces.NewPublicID("cccccccccccc")
	require.NoError(t, err)
	clients.Register(interfaces.ClientCredential{ID: "1", AllowedDevices: []interfaces.PublicID{other}})

	status, _ := processStatus(t, p, url.Values{"id": {"1"}, "otp": {testOTP}})
	assert.Equal(t, interfaces.StatusOperationNotAllowed, status)
}

func TestProcessor_SyncLevel(t *testing.T) {
	result := okResult(t)
	result.SyncAcks = 0
	result.SyncPeers = 3
	p, _ := testProcessor(t, nil, result)

	// 1 of 4 validators answered: 25%, short of secure.
	status, resp := processStatus(t, p, url.Values{"id": {"1"}, "otp": {testOTP}, "sl": {"secure"}})
	assert.Equal(t, interfaces.StatusNotEnoughAnswers, status)
	assert.Equal(t, "25", resp["sl"])

	status, resp = processStatus(t, p, url.Values{"id": {"1"}, "otp": {testOTP}, "sl": {"25"}})
	assert.Equal(t, interfaces.StatusOK, status)
	assert.Equal(t, "25", resp["sl"])

	// No sl requested, none reported.
	status, resp = processStatus(t, p, url.Values{"id": {"1"}, "otp": {testOTP}})
	assert.Equal(t, interfaces.StatusOK, status)
	assert.NotContains(t, resp, "sl")
}

func TestProcessor_TimestampFields(t *testing.T) {
	p, _ := testProcessor(t, nil, okResult(t))

	status, resp := processStatus(t, p, url.Values{"id": {"1"}, "otp": {testOTP}, "timestamp": {"1"}})
	assert.Equal(t, interfaces.StatusOK, status)
	assert.Equal(t, "1193046", resp["timestamp"])
	assert.Equal(t, "7", resp["sessioncounter"])
	assert.Equal(t, "2", resp["sessionuse"])

	status, resp = processStatus(t, p, url.Values{"id": {"1"}, "otp": {testOTP}})
	assert.Equal(t, interfaces.StatusOK, status)
	assert.NotContains(t, resp, "timestamp")
}

func TestResponse_SerializeLayout(t *testing.T) {
	resp := NewResponse(interfaces.StatusOK).Set("otp", testOTP).Set("nonce", testNonce)
	body := resp.Serialize([]byte("test-api-key"), time.Date(2016, 3, 27, 12, 0, 1, 230000000, time.UTC))

	lines := strings.Split(body, "\r\n")
	require.Len(t, lines, 7, "five fields, blank terminator, trailing empty split")
	assert.True(t, strings.HasPrefix(lines[0], "h="))
	assert.Equal(t, "t=2016-03-27T12:00:01Z2300", lines[1])
	assert.Equal(t, "nonce="+testNonce, lines[2])
	assert.Equal(t, "otp="+testOTP, lines[3])
	assert.Equal(t, "status=OK", lines[4])
	assert.Equal(t, "", lines[5])
	assert.Equal(t, "", lines[6])
}
