package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mordris/ledgerwatch/internal/publisher"
	"github.com/mordris/ledgerwatch/pkg/errs"
	"github.com/mordris/ledgerwatch/pkg/models"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeLedger serves the REST endpoints and a minimal Socket.IO push channel.
type fakeLedger struct {
	t     *testing.T
	state string // JSON pushed as initial_state and blockchain_updated
	valid bool
	// failValidate makes the validate endpoint answer 500
	failValidate bool

	mu     sync.Mutex
	hits   map[string]int
	bodies map[string]map[string]any
}

func (f *fakeLedger) setValid(v bool) {
	f.mu.Lock()
	f.valid = v
	f.mu.Unlock()
}

func (f *fakeLedger) setFailValidate(v bool) {
	f.mu.Lock()
	f.failValidate = v
	f.mu.Unlock()
}

func (f *fakeLedger) setState(state string) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

func newFakeLedger(t *testing.T) *fakeLedger {
	return &fakeLedger{
		t:      t,
		valid:  true,
		hits:   map[string]int{},
		bodies: map[string]map[string]any{},
		state: `{"status":{"blocks":1,"pending_transactions":2,"difficulty":3,"mining_reward":50},` +
			`"blocks":[{"index":0,"hash":"genesis","previous_hash":"0","timestamp":1700000000,"nonce":0,"transactions":[]}]}`,
	}
}

func (f *fakeLedger) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeLedger) body(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[path]
}

func (f *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/socket.io/" {
		f.serveSocket(w, r)
		return
	}

	f.mu.Lock()
	f.hits[r.URL.Path]++
	if r.Body != nil {
		var body map[string]any
		if json.NewDecoder(r.Body).Decode(&body) == nil {
			f.bodies[r.URL.Path] = body
		}
	}
	valid, failValidate := f.valid, f.failValidate
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/keys/generate":
		io.WriteString(w, `{"public_key_pem":"PUB-NEW","private_key_pem":"PRIV-NEW"}`)
	case "/api/faucet/request-welcome-bonus":
		io.WriteString(w, `{"success":true,"message":"Welcome bonus sent!"}`)
	case "/api/users/directory":
		io.WriteString(w, `[{"name":"Alice Alpha","public_key_pem":"PK-A","balance":1000}]`)
	case "/api/blockchain/balance":
		io.WriteString(w, `{"public_key":"`+r.URL.Query().Get("key")+`","balance":42.5}`)
	case "/api/blockchain/validate":
		if failValidate {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":"boom"}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"valid": valid})
	case "/api/blockchain/mine":
		io.WriteString(w, `{"message":"","block":{"index":1,"hash":"00abcdef0123456789","nonce":7,"timestamp":1700000100},"mining_duration":0.2}`)
	case "/api/blockchain/create":
		io.WriteString(w, `{"success":true,"message":"Blockchain created with difficulty 3."}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeLedger) serveSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	write := func(frame string) bool {
		return conn.WriteMessage(websocket.TextMessage, []byte(frame)) == nil
	}
	read := func() string {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return ""
		}
		return string(data)
	}

	if !write(`0{"sid":"s1","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`) || read() != "40" {
		return
	}
	f.mu.Lock()
	state := f.state
	f.mu.Unlock()
	// the server pushes its state on connect and again in reply to request_update
	if !write(`40{"sid":"n1"}`) || !write(`42["initial_state",`+state+`]`) {
		return
	}
	if !strings.Contains(read(), "request_update") {
		return
	}
	if !write(`42["blockchain_updated",` + state + `]`) {
		return
	}
	for read() != "" {
	}
}

type result struct {
	out, errOut string
	err         error
}

func run(t *testing.T, args ...string) result {
	t.Helper()
	return runWithInput(t, "", args...)
}

func runWithInput(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr syncBuffer
	err := Execute(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{out: stdout.String(), errOut: stderr.String(), err: err}
}

func setupEnv(t *testing.T) (*fakeLedger, []string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("MINING_TICK", "5ms")
	t.Setenv("MINING_DISPLAY_DELAY", "1ms")
	t.Setenv("WS_RECONNECT_DELAY", "10ms")

	ledger := newFakeLedger(t)
	srv := httptest.NewServer(ledger)
	t.Cleanup(srv.Close)

	return ledger, []string{"--ledger-url", srv.URL, "--wallet", t.TempDir()}
}

func TestKeysGenerateThenShow(t *testing.T) {
	ledger, common := setupEnv(t)

	res := run(t, append([]string{"keys", "generate"}, common...)...)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "PUB-NEW")
	assert.Contains(t, res.out, "[ok] New key pair generated and stored locally!")
	assert.Contains(t, res.out, "[ok] Welcome bonus sent!")
	assert.Equal(t, "PUB-NEW", ledger.body("/api/faucet/request-welcome-bonus")["recipient_public_key"])

	res = run(t, append([]string{"keys", "show", "--private"}, common...)...)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "Public key:\nPUB-NEW")
	assert.Contains(t, res.out, "Private key:\nPRIV-NEW")
}

func TestKeysShowWithoutKeys(t *testing.T) {
	_, common := setupEnv(t)

	res := run(t, append([]string{"keys", "show"}, common...)...)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, errs.NotAuthenticated)
	assert.Contains(t, res.errOut, "No keys loaded")
}

func TestSendWithoutKeysMakesNoCalls(t *testing.T) {
	ledger, common := setupEnv(t)

	res := run(t, append([]string{"send", "--to", "PK-A", "--amount", "5"}, common...)...)
	require.Error(t, res.err)
	assert.Contains(t, res.out, "[error] Please generate/load your keys first to send a transaction.")
	assert.NotContains(t, res.errOut, "Error:")
	assert.Zero(t, ledger.count("/api/utils/sign-data-for-client"))
	assert.Zero(t, ledger.count("/api/blockchain/add-transaction"))
}

func TestBalance(t *testing.T) {
	_, common := setupEnv(t)

	res := run(t, append([]string{"balance"}, common...)...)
	require.NoError(t, res.err)
	assert.Equal(t, models.BalanceNoKeys+"\n", res.out)

	res = run(t, append([]string{"balance", "PK-A"}, common...)...)
	require.NoError(t, res.err)
	assert.Equal(t, "42.5000\n", res.out)
}

func TestDirectory(t *testing.T) {
	_, common := setupEnv(t)

	res := run(t, append([]string{"directory"}, common...)...)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "1 Users")
	assert.Contains(t, res.out, "Alice Alpha")
	assert.Contains(t, res.out, "1000.00 Coins")
}

func TestValidate(t *testing.T) {
	ledger, common := setupEnv(t)

	res := run(t, append([]string{"validate"}, common...)...)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "[ok] Blockchain is VALID")

	ledger.setValid(false)
	res = run(t, append([]string{"validate"}, common...)...)
	require.Error(t, res.err)
	assert.Contains(t, res.out, "[error] Blockchain is INVALID!")
}

func TestValidateTransportFailureIsNotified(t *testing.T) {
	ledger, common := setupEnv(t)
	ledger.setFailValidate(true)

	res := run(t, append([]string{"validate"}, common...)...)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, errs.TransportError)
	assert.Equal(t, 1, ledger.count("/api/blockchain/validate"))
	assert.Contains(t, res.out, "[error] Could not get validation status from server.")
	assert.NotContains(t, res.errOut, "Error:")

	res = runWithInput(t, "validate\nquit\n", append([]string{"watch"}, common...)...)
	require.NoError(t, res.err)
	assert.Equal(t, 2, ledger.count("/api/blockchain/validate"))
	assert.Contains(t, res.out, "[error] Could not get validation status from server.")
}

func TestCreateValidatesBeforeNetwork(t *testing.T) {
	ledger, common := setupEnv(t)

	res := run(t, append([]string{"create", "--difficulty", "9"}, common...)...)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, errs.InvalidInput)
	assert.Zero(t, ledger.count("/api/blockchain/create"))

	res = run(t, append([]string{"create", "--difficulty", "3", "--reward", "50"}, common...)...)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "[ok] Blockchain created with difficulty 3.")
	assert.EqualValues(t, 3, ledger.body("/api/blockchain/create")["difficulty"])
}

func TestStatusMirrorsPushedState(t *testing.T) {
	_, common := setupEnv(t)

	res := run(t, append([]string{"status", "--chain"}, common...)...)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "Blocks: 1 | Pending: 2 | Difficulty: 3 | Reward: 50.0")
	assert.Contains(t, res.out, "Block #0")
	assert.Contains(t, res.out, "Alice Alpha")
	assert.Contains(t, res.out, "Your balance: "+models.BalanceNoKeys)
}

func TestMineUsesPendingCountFromMirror(t *testing.T) {
	ledger, common := setupEnv(t)

	res := run(t, append([]string{"mine", "--miner", "PK-M"}, common...)...)
	require.NoError(t, res.err)
	assert.Equal(t, 1, ledger.count("/api/blockchain/mine"))
	assert.Equal(t, "PK-M", ledger.body("/api/blockchain/mine")["miner_address_public_key"])
	assert.Contains(t, res.out, "[ok] Block #1 mined!")
	assert.Contains(t, res.out, "00abcdef01")
}

func TestMineWithNothingPending(t *testing.T) {
	ledger, common := setupEnv(t)
	ledger.setState(`{"status":{"blocks":1,"pending_transactions":0,"difficulty":3,"mining_reward":50},"blocks":[]}`)

	res := run(t, append([]string{"mine", "--miner", "PK-M"}, common...)...)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, errs.NoPendingWork)
	assert.Zero(t, ledger.count("/api/blockchain/mine"))
}

func TestWatchShowsOnboardingOnce(t *testing.T) {
	_, common := setupEnv(t)

	res := runWithInput(t, "help\nquit\n", append([]string{"watch"}, common...)...)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "[ok] Welcome!")
	assert.Contains(t, res.out, "send <user|key> <amount>")

	res = runWithInput(t, "bogus\nquit\n", append([]string{"watch"}, common...)...)
	require.NoError(t, res.err)
	assert.NotContains(t, res.out, "Welcome!")
	assert.Contains(t, res.out, `[error] Unknown command "bogus"`)
}

func TestResolveRecipient(t *testing.T) {
	users := []models.DirectoryEntry{
		{Name: "Alice Alpha", PublicKey: "PK-A"},
		{Name: "Bob Beta", PublicKey: "PK-B"},
	}
	assert.Equal(t, "PK-B", resolveRecipient("2", users))
	assert.Equal(t, "PK-A", resolveRecipient("alice", users))
	assert.Equal(t, "PK-B", resolveRecipient("Bob Beta", users))
	assert.Equal(t, "3", resolveRecipient("3", users))
	assert.Equal(t, "PK-Z", resolveRecipient("PK-Z", users))
}

func TestLogPublisherQueueWithoutRedis(t *testing.T) {
	var buf syncBuffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	logPublisherQueue(context.Background(), publisher.NewWithPublisher(pubSub, "ledger.snapshots"))
	assert.Contains(t, buf.String(), "stream length unavailable")
	assert.Contains(t, buf.String(), "topic=ledger.snapshots")
}
