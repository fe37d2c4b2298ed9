// Copyright 2025 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package replica

import (
	"crypto/ecdsa"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/rawdb"
	"github.com/xrelay/replica/core/types"
)

const (
	localDomain  = 7
	remoteDomain = 5
	testDelay    = 100
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []*types.StampedMessage
	err  error
}

func (h *recordingHandler) HandleMessage(msg *types.StampedMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

type testEnv struct {
	db      *memorydb.Database
	replica *Replica
	key     *ecdsa.PrivateKey
	clock   *fakeClock
	handler *recordingHandler
	cfg     *Config
}

func newTestEnv(t *testing.T, initial common.Hash) *testEnv {
	t.Helper()
	key, _ := crypto.GenerateKey()
	env := &testEnv{
		db:      memorydb.New(),
		key:     key,
		clock:   newFakeClock(),
		handler: new(recordingHandler),
	}
	env.cfg = &Config{
		Domain:            localDomain,
		RemoteDomain:      remoteDomain,
		Updater:           crypto.PubkeyToAddress(key.PublicKey),
		InitialRoot:       initial,
		OptimisticSeconds: testDelay,
		Clock:             env.clock,
	}
	r, err := New(env.db, env.cfg, env.handler)
	if err != nil {
		t.Fatal(err)
	}
	env.replica = r
	t.Cleanup(r.Close)
	return env
}

func (env *testEnv) sign(t *testing.T, prev, next common.Hash) *types.SignedUpdate {
	t.Helper()
	return signWith(t, env.key, remoteDomain, prev, next)
}

func signWith(t *testing.T, key *ecdsa.PrivateKey, domain uint32, prev, next common.Hash) *types.SignedUpdate {
	t.Helper()
	su, err := types.SignUpdate(types.Update{OriginDomain: domain, PreviousRoot: prev, NewRoot: next}, key)
	if err != nil {
		t.Fatal(err)
	}
	return su
}

// advanceTo submits and confirms a single update to root.
func (env *testEnv) advanceTo(t *testing.T, root common.Hash) {
	t.Helper()
	if _, err := env.replica.SubmitUpdate(env.sign(t, env.replica.CurrentRoot(), root)); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(testDelay * time.Second)
	if _, err := env.replica.Confirm(); err != nil {
		t.Fatal(err)
	}
}

func testMessage(destination, nonce uint32) []byte {
	msg := &types.StampedMessage{
		Origin:      remoteDomain,
		Sender:      common.HexToHash("0x51"),
		Nonce:       nonce,
		Destination: destination,
		Recipient:   common.HexToHash("0x52"),
		Body:        []byte("payload"),
	}
	return msg.Encode()
}

// buildTree returns a tree over the given messages.
func buildTree(messages ...[]byte) *merkle.Tree {
	tree := merkle.NewTree()
	for _, m := range messages {
		tree.Append(crypto.Keccak256Hash(m))
	}
	return tree
}

func mustProof(t *testing.T, tree *merkle.Tree, index uint32) *merkle.Proof {
	t.Helper()
	proof, err := tree.Proof(index)
	if err != nil {
		t.Fatal(err)
	}
	return proof
}

func TestUpdateAndConfirm(t *testing.T) {
	r0, r1 := common.HexToHash("0xa0"), common.HexToHash("0xa1")
	env := newTestEnv(t, r0)
	r := env.replica

	if r.Pending() != nil || r.CanConfirm() {
		t.Fatal("fresh replica has a pending update")
	}
	if _, err := r.Confirm(); !errors.Is(err, ErrNoPendingUpdate) {
		t.Fatalf("expected ErrNoPendingUpdate, got %v", err)
	}

	start := env.clock.Now()
	pending, err := r.SubmitUpdate(env.sign(t, r0, r1))
	if err != nil {
		t.Fatal(err)
	}
	want := uint64(start.Unix()) + testDelay
	if pending.Root != r1 || pending.ConfirmAt != want {
		t.Fatalf("pending %+v, want root %s confirmAt %d", pending, r1, want)
	}
	if got := r.Pending(); got == nil || *got != *pending {
		t.Fatalf("stored pending %+v", got)
	}

	env.clock.Advance((testDelay - 1) * time.Second)
	if r.CanConfirm() {
		t.Fatal("confirmable before the delay elapsed")
	}
	if _, err := r.Confirm(); !errors.Is(err, ErrNotYetConfirmable) {
		t.Fatalf("expected ErrNotYetConfirmable, got %v", err)
	}
	if r.CurrentRoot() != r0 {
		t.Fatal("early confirm changed the root")
	}

	env.clock.Advance(time.Second)
	if !r.CanConfirm() {
		t.Fatal("not confirmable at the deadline")
	}
	root, err := r.Confirm()
	if err != nil {
		t.Fatal(err)
	}
	if root != r1 || r.CurrentRoot() != r1 || r.PreviousRoot() != r0 {
		t.Fatalf("after confirm: current %s previous %s", r.CurrentRoot(), r.PreviousRoot())
	}
	if r.Pending() != nil {
		t.Fatal("pending not cleared")
	}
	if _, err := r.Confirm(); !errors.Is(err, ErrNoPendingUpdate) {
		t.Fatalf("second confirm: expected ErrNoPendingUpdate, got %v", err)
	}
}

func TestUpdateRejections(t *testing.T) {
	r0, r1, r2 := common.HexToHash("0xa0"), common.HexToHash("0xa1"), common.HexToHash("0xa2")
	env := newTestEnv(t, r0)
	r := env.replica
	stranger, _ := crypto.GenerateKey()

	bad := env.sign(t, r0, r1)
	bad.Signature = bad.Signature[:10]

	tests := []struct {
		name string
		su   *types.SignedUpdate
		want error
	}{
		{"malformed signature", bad, ErrInvalidSignature},
		{"foreign signer", signWith(t, stranger, remoteDomain, r0, r1), ErrUnauthorizedSigner},
		{"foreign domain", signWith(t, env.key, remoteDomain+1, r0, r1), ErrDomainMismatch},
		{"non contiguous", env.sign(t, r1, r2), ErrNonContiguousUpdate},
	}
	for _, tt := range tests {
		if _, err := r.SubmitUpdate(tt.su); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
	if r.Pending() != nil || r.UpdateCount() != 0 {
		t.Fatal("rejected updates left a trace")
	}
}

func TestUpdateChainAndReplace(t *testing.T) {
	r0, r1, r2, r3 := common.HexToHash("0xa0"), common.HexToHash("0xa1"), common.HexToHash("0xa2"), common.HexToHash("0xa3")
	env := newTestEnv(t, r0)
	r := env.replica

	if _, err := r.SubmitUpdate(env.sign(t, r0, r1)); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(10 * time.Second)
	// Extending the pending root restarts the delay.
	pending, err := r.SubmitUpdate(env.sign(t, r1, r2))
	if err != nil {
		t.Fatal(err)
	}
	if pending.Root != r2 || pending.ConfirmAt != uint64(env.clock.Now().Unix())+testDelay {
		t.Fatalf("chained pending %+v", pending)
	}
	// Extending the current root replaces the pending update.
	if _, err := r.SubmitUpdate(env.sign(t, r0, r3)); err != nil {
		t.Fatal(err)
	}
	if got := r.Pending(); got.Root != r3 {
		t.Fatalf("pending root %s, want %s", got.Root, r3)
	}
	if _, err := r.SubmitUpdate(env.sign(t, r1, r2)); !errors.Is(err, ErrNonContiguousUpdate) {
		t.Fatalf("expected ErrNonContiguousUpdate after replace, got %v", err)
	}
	if r.UpdateCount() != 3 {
		t.Fatalf("update count %d", r.UpdateCount())
	}
	su, err := r.SignedUpdateByNewRoot(r2)
	if err != nil || su == nil || su.Update.PreviousRoot != r1 {
		t.Fatalf("lookup by new root: %v %v", su, err)
	}
	all, err := r.SignedUpdatesByOldRoot(r0)
	if err != nil || len(all) != 2 {
		t.Fatalf("lookup by old root: %d updates, err %v", len(all), err)
	}
	first, _ := r.SignedUpdateByOldRoot(r0)
	if first.Update.NewRoot != r1 {
		t.Fatalf("first update by old root is %s", first.Update.NewRoot)
	}
	if none, err := r.SignedUpdateByOldRoot(r3); none != nil || err != nil {
		t.Fatalf("expected no update, got %v %v", none, err)
	}
}

func TestProveAndProcess(t *testing.T) {
	msgs := [][]byte{testMessage(localDomain, 0), testMessage(localDomain, 1), testMessage(localDomain+1, 2)}
	tree := buildTree(msgs...)
	env := newTestEnv(t, common.HexToHash("0xa0"))
	r := env.replica

	// Nothing verifies before the root is confirmed.
	if _, err := r.ProveAndProcess(msgs[0], mustProof(t, tree, 0), 0); !errors.Is(err, ErrProofMismatch) {
		t.Fatalf("expected ErrProofMismatch, got %v", err)
	}
	env.advanceTo(t, tree.Root())

	id, err := r.ProveAndProcess(msgs[0], mustProof(t, tree, 0), 0)
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsProcessed(id) || env.handler.count() != 1 {
		t.Fatal("message not processed")
	}
	if env.handler.msgs[0].Nonce != 0 || env.handler.msgs[0].Destination != localDomain {
		t.Fatalf("unexpected dispatched message %v", env.handler.msgs[0])
	}

	// Replay.
	if _, err := r.ProveAndProcess(msgs[0], mustProof(t, tree, 0), 0); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	// Wrong index for a valid message.
	if _, err := r.ProveAndProcess(msgs[1], mustProof(t, tree, 1), 0); !errors.Is(err, ErrProofMismatch) {
		t.Fatalf("expected ErrProofMismatch, got %v", err)
	}
	// Wrong destination leaves no trace.
	wrongID, err := r.ProveAndProcess(msgs[2], mustProof(t, tree, 2), 2)
	if !errors.Is(err, ErrWrongDestination) {
		t.Fatalf("expected ErrWrongDestination, got %v", err)
	}
	if r.IsProcessed(wrongID) {
		t.Fatal("rejected message marked processed")
	}
	if _, err := r.ProveAndProcess(msgs[1], nil, 1); !errors.Is(err, ErrMalformedProof) {
		t.Fatalf("expected ErrMalformedProof, got %v", err)
	}
	if env.handler.count() != 1 {
		t.Fatalf("handler called %d times", env.handler.count())
	}
}

func TestProcessAgainstPreviousRoot(t *testing.T) {
	m0, m1 := testMessage(localDomain, 0), testMessage(localDomain, 1)
	old := buildTree(m0)
	env := newTestEnv(t, common.HexToHash("0xa0"))
	r := env.replica

	env.advanceTo(t, old.Root())
	oldProof := mustProof(t, old, 0)

	grown := buildTree(m0, m1)
	env.advanceTo(t, grown.Root())
	if r.PreviousRoot() != old.Root() {
		t.Fatal("previous root not tracked")
	}
	if _, err := r.ProveAndProcess(m0, oldProof, 0); err != nil {
		t.Fatalf("proof against previous root rejected: %v", err)
	}

	// Two confirmations later the old root is no longer acceptable.
	env.advanceTo(t, common.HexToHash("0xff"))
	if _, err := r.ProveAndProcess(m0, oldProof, 0); !errors.Is(err, ErrProofMismatch) {
		t.Fatalf("expected ErrProofMismatch, got %v", err)
	}
}

func TestZeroPreviousRootNeverAcceptable(t *testing.T) {
	env := newTestEnv(t, common.HexToHash("0xa0"))
	// A proof whose computed root would be zero cannot exist, but the zero
	// previous root of a fresh replica must not be treated as acceptable.
	env.replica.mu.RLock()
	ok := env.replica.acceptableRoot(common.Hash{})
	env.replica.mu.RUnlock()
	if ok {
		t.Fatal("zero previous root accepted")
	}
}

func TestHandlerFailureKeepsMark(t *testing.T) {
	msg := testMessage(localDomain, 0)
	tree := buildTree(msg)
	env := newTestEnv(t, common.HexToHash("0xa0"))
	env.advanceTo(t, tree.Root())
	boom := errors.New("boom")
	env.handler.err = boom

	id, err := env.replica.ProveAndProcess(msg, mustProof(t, tree, 0), 0)
	var herr *HandlerError
	if !errors.As(err, &herr) || !errors.Is(err, boom) || !errors.Is(err, ErrHandlerFailed) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if herr.ID != id || !env.replica.IsProcessed(id) {
		t.Fatal("message unmarked after handler failure")
	}
	if _, err := env.replica.ProveAndProcess(msg, mustProof(t, tree, 0), 0); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestProveThenProcess(t *testing.T) {
	msg := testMessage(localDomain, 3)
	tree := buildTree(testMessage(localDomain, 0), msg)
	env := newTestEnv(t, common.HexToHash("0xa0"))
	r := env.replica
	env.advanceTo(t, tree.Root())

	if _, err := r.Process(msg); !errors.Is(err, ErrNotProven) {
		t.Fatalf("expected ErrNotProven, got %v", err)
	}
	leaf := crypto.Keccak256Hash(msg)
	if err := r.Prove(leaf, mustProof(t, tree, 1), 0); !errors.Is(err, ErrProofMismatch) {
		t.Fatalf("expected ErrProofMismatch, got %v", err)
	}
	if err := r.Prove(leaf, mustProof(t, tree, 1), 1); err != nil {
		t.Fatal(err)
	}
	id, err := r.Process(msg)
	if err != nil {
		t.Fatal(err)
	}
	if id != types.MessageID(leaf, 1) || !r.IsProcessed(id) {
		t.Fatal("unexpected message id")
	}
	if _, err := r.Process(msg); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if err := r.Prove(leaf, mustProof(t, tree, 1), 1); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed on re-prove, got %v", err)
	}
	// The composite path shares the replay set.
	if _, err := r.ProveAndProcess(msg, mustProof(t, tree, 1), 1); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestDoubleUpdateHalts(t *testing.T) {
	r0, r1, r2 := common.HexToHash("0xa0"), common.HexToHash("0xa1"), common.HexToHash("0xa2")
	env := newTestEnv(t, r0)
	r := env.replica
	stranger, _ := crypto.GenerateKey()

	if _, err := r.SubmitUpdate(env.sign(t, r0, r1)); err != nil {
		t.Fatal(err)
	}
	same := types.DoubleUpdate{*env.sign(t, r0, r1), *env.sign(t, r0, r1)}
	if err := r.SubmitDoubleUpdate(&same); !errors.Is(err, ErrNotEquivocation) {
		t.Fatalf("expected ErrNotEquivocation, got %v", err)
	}
	foreign := types.DoubleUpdate{*signWith(t, env.key, 9, r0, r1), *signWith(t, env.key, 9, r0, r2)}
	if err := r.SubmitDoubleUpdate(&foreign); !errors.Is(err, ErrNotEquivocation) {
		t.Fatalf("expected ErrNotEquivocation for foreign domain, got %v", err)
	}
	forged := types.DoubleUpdate{*env.sign(t, r0, r1), *signWith(t, stranger, remoteDomain, r0, r2)}
	if err := r.SubmitDoubleUpdate(&forged); !errors.Is(err, ErrUnauthorizedSigner) {
		t.Fatalf("expected ErrUnauthorizedSigner, got %v", err)
	}
	if r.Phase() != types.PhaseWaiting {
		t.Fatal("invalid evidence halted the replica")
	}

	double := types.DoubleUpdate{*env.sign(t, r0, r1), *env.sign(t, r0, r2)}
	if err := r.SubmitDoubleUpdate(&double); err != nil {
		t.Fatal(err)
	}
	if r.Phase() != types.PhaseFailed || r.Pending() != nil {
		t.Fatal("replica not halted")
	}
	env.clock.Advance(testDelay * time.Second)
	if r.CanConfirm() {
		t.Fatal("halted replica reports confirmable")
	}

	tree := buildTree(testMessage(localDomain, 0))
	if _, err := r.SubmitUpdate(env.sign(t, r0, r1)); !errors.Is(err, ErrReplicaHalted) {
		t.Errorf("update: expected ErrReplicaHalted, got %v", err)
	}
	// Halt dominates every other rejection.
	if _, err := r.SubmitUpdate(signWith(t, stranger, 9, r2, r2)); !errors.Is(err, ErrReplicaHalted) {
		t.Errorf("bad update: expected ErrReplicaHalted, got %v", err)
	}
	if _, err := r.Confirm(); !errors.Is(err, ErrReplicaHalted) {
		t.Errorf("confirm: expected ErrReplicaHalted, got %v", err)
	}
	if _, err := r.ProveAndProcess(testMessage(localDomain, 0), mustProof(t, tree, 0), 0); !errors.Is(err, ErrReplicaHalted) {
		t.Errorf("process: expected ErrReplicaHalted, got %v", err)
	}
	if err := r.Prove(common.Hash{}, mustProof(t, tree, 0), 0); !errors.Is(err, ErrReplicaHalted) {
		t.Errorf("prove: expected ErrReplicaHalted, got %v", err)
	}
	if _, err := r.Process(nil); !errors.Is(err, ErrReplicaHalted) {
		t.Errorf("process split: expected ErrReplicaHalted, got %v", err)
	}
	if err := r.SubmitDoubleUpdate(&double); !errors.Is(err, ErrReplicaHalted) {
		t.Errorf("double update: expected ErrReplicaHalted, got %v", err)
	}
}

func TestReopen(t *testing.T) {
	r0, r1, r2 := common.HexToHash("0xa0"), common.HexToHash("0xa1"), common.HexToHash("0xa2")
	env := newTestEnv(t, r0)
	env.advanceTo(t, r1)
	if _, err := env.replica.SubmitUpdate(env.sign(t, r1, r2)); err != nil {
		t.Fatal(err)
	}
	pending := env.replica.Pending()
	env.replica.Close()

	reopened, err := Open(env.db, env.cfg, env.handler)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.CurrentRoot() != r1 || reopened.PreviousRoot() != r0 {
		t.Fatal("roots not restored")
	}
	if got := reopened.Pending(); got == nil || *got != *pending {
		t.Fatalf("pending not restored: %+v", got)
	}
	if reopened.UpdateCount() != 2 {
		t.Fatalf("update count %d", reopened.UpdateCount())
	}

	other := *env.cfg
	other.OptimisticSeconds++
	if _, err := Open(env.db, &other, nil); !errors.Is(err, errConfigMismatch) {
		t.Fatalf("expected config mismatch, got %v", err)
	}
	if _, err := New(env.db, env.cfg, nil); !errors.Is(err, errAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Domain: 1, RemoteDomain: 2}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing updater accepted")
	}
	cfg.Updater = common.HexToAddress("0x01")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg.RemoteDomain = 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("equal domains accepted")
	}
}

func TestOptimisticDelayBounds(t *testing.T) {
	r0, r1 := common.HexToHash("0xa0"), common.HexToHash("0xa1")
	env := newTestEnv(t, r0)

	huge := *env.cfg
	huge.OptimisticSeconds = math.MaxUint64 - 1000
	if err := huge.Validate(); err == nil {
		t.Fatal("delay beyond int64 accepted")
	}
	if _, err := New(memorydb.New(), &huge, nil); err == nil {
		t.Fatal("replica created with delay beyond int64")
	}

	// The largest accepted delay keeps the update pending.
	longest := *env.cfg
	longest.OptimisticSeconds = math.MaxInt64
	r, err := New(memorydb.New(), &longest, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	pending, err := r.SubmitUpdate(env.sign(t, r0, r1))
	if err != nil {
		t.Fatal(err)
	}
	if now := uint64(env.clock.Now().Unix()); pending.ConfirmAt <= now {
		t.Fatalf("confirmAt %d not after now %d", pending.ConfirmAt, now)
	}
	if r.CanConfirm() {
		t.Fatal("update confirmable before its delay")
	}
	if _, err := r.Confirm(); !errors.Is(err, ErrNotYetConfirmable) {
		t.Fatalf("expected ErrNotYetConfirmable, got %v", err)
	}

	// A stored genesis whose deadline would wrap rejects the update.
	genesis := huge.genesis()
	wrapped := newReplica(memorydb.New(), genesis, env.clock, nil, rawdb.ReplicaState{Current: r0}, 0)
	if _, err := wrapped.SubmitUpdate(env.sign(t, r0, r1)); !errors.Is(err, ErrProtocolInvariantViolation) {
		t.Fatalf("expected ErrProtocolInvariantViolation, got %v", err)
	}
	if wrapped.Pending() != nil || wrapped.CanConfirm() {
		t.Fatal("wrapped deadline left a pending update")
	}
	if _, err := wrapped.Confirm(); !errors.Is(err, ErrNoPendingUpdate) {
		t.Fatalf("expected ErrNoPendingUpdate, got %v", err)
	}
}

func TestConcurrentProveAndProcess(t *testing.T) {
	msg := testMessage(localDomain, 0)
	tree := buildTree(msg)
	env := newTestEnv(t, common.HexToHash("0xa0"))
	env.advanceTo(t, tree.Root())
	proof := mustProof(t, tree, 0)

	const workers = 32
	var (
		wg         sync.WaitGroup
		start      = make(chan struct{})
		errs       = make(chan error, workers)
		ok, replay int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.replica.ProveAndProcess(msg, proof, 0)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyProcessed):
			replay++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || replay != workers-1 {
		t.Fatalf("ok=%d replay=%d, want 1 and %d", ok, replay, workers-1)
	}
	if env.handler.count() != 1 {
		t.Fatalf("handler called %d times", env.handler.count())
	}
}

func TestConcurrentUpdateConfirmAndDoubleUpdate(t *testing.T) {
	r0 := common.HexToHash("0xa0")
	env := newTestEnv(t, r0)
	r := env.replica

	roots := make(map[common.Hash]bool)
	var updates []*types.SignedUpdate
	for i := 1; i <= 8; i++ {
		h := common.BytesToHash([]byte{0xb0, byte(i)})
		roots[h] = true
		updates = append(updates, env.sign(t, r0, h))
	}
	double := types.DoubleUpdate{*env.sign(t, r0, common.HexToHash("0xd1")), *env.sign(t, r0, common.HexToHash("0xd2"))}

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		confirmed []common.Hash
		halts     int
		failures  []error
	)
	record := func(err error) {
		if err != nil && ErrorCode(err) == 0 {
			mu.Lock()
			failures = append(failures, err)
			mu.Unlock()
		}
	}
	for _, su := range updates {
		wg.Add(1)
		go func(su *types.SignedUpdate) {
			defer wg.Done()
			<-start
			for i := 0; i < 10; i++ {
				_, err := r.SubmitUpdate(su)
				record(err)
			}
		}(su)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				env.clock.Advance(testDelay * time.Second / 10)
				root, err := r.Confirm()
				record(err)
				if err == nil {
					mu.Lock()
					confirmed = append(confirmed, root)
					mu.Unlock()
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := r.SubmitDoubleUpdate(&double)
			record(err)
			if err == nil {
				mu.Lock()
				halts++
				mu.Unlock()
			}
		}()
	}
	// Readers never observe a halted replica with a pending update.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		for i := 0; i < 200; i++ {
			if r.Phase() == types.PhaseFailed && r.Pending() != nil {
				mu.Lock()
				failures = append(failures, errors.New("pending update on a halted replica"))
				mu.Unlock()
				return
			}
		}
	}()
	close(start)
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("unclassified errors: %v", failures)
	}
	if halts != 1 {
		t.Fatalf("double update succeeded %d times", halts)
	}
	if len(confirmed) > 1 {
		t.Fatalf("confirmed %d times from a single root", len(confirmed))
	}
	if r.Phase() != types.PhaseFailed || r.Pending() != nil {
		t.Fatal("replica not halted with a cleared pending update")
	}
	current, previous := r.CurrentRoot(), r.PreviousRoot()
	switch {
	case len(confirmed) == 0:
		if current != r0 || previous != (common.Hash{}) {
			t.Fatalf("roots moved without a confirmation: %s / %s", current, previous)
		}
	default:
		if current != confirmed[0] || !roots[current] || previous != r0 {
			t.Fatalf("inconsistent roots after confirmation: %s / %s", current, previous)
		}
	}

	// The persisted state matches what was observed in memory.
	r.Close()
	reopened, err := Open(env.db, env.cfg, env.handler)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.Phase() != types.PhaseFailed || reopened.Pending() != nil ||
		reopened.CurrentRoot() != current || reopened.PreviousRoot() != previous {
		t.Fatal("persisted state differs from memory")
	}
}

func TestDoubleUpdateMalformedSignature(t *testing.T) {
	r0 := common.HexToHash("0xa0")
	env := newTestEnv(t, r0)

	bad := *env.sign(t, r0, common.HexToHash("0xa2"))
	bad.Signature = bad.Signature[:10]
	d := types.DoubleUpdate{*env.sign(t, r0, common.HexToHash("0xa1")), bad}
	if err := env.replica.SubmitDoubleUpdate(&d); !errors.Is(err, ErrUnauthorizedSigner) {
		t.Fatalf("expected ErrUnauthorizedSigner, got %v", err)
	}
	if env.replica.Phase() != types.PhaseWaiting {
		t.Fatal("malformed evidence halted the replica")
	}
}

func TestSubscribeUpdates(t *testing.T) {
	r0, r1 := common.HexToHash("0xa0"), common.HexToHash("0xa1")
	env := newTestEnv(t, r0)

	ch := make(chan *types.SignedUpdate, 1)
	sub := env.replica.SubscribeUpdates(ch)
	defer sub.Unsubscribe()

	su := env.sign(t, r0, r1)
	if _, err := env.replica.SubmitUpdate(su); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if got.Update != su.Update {
			t.Fatalf("got %v", got.Update)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestRouter(t *testing.T) {
	a, b := new(recordingHandler), new(recordingHandler)
	router := NewRouter(nil)
	router.Register(common.HexToHash("0x52"), a)

	msg, _ := types.DecodeStampedMessage(testMessage(localDomain, 0))
	if err := router.HandleMessage(msg); err != nil || a.count() != 1 {
		t.Fatalf("routed handler not called: %v", err)
	}
	router.Unregister(common.HexToHash("0x52"))
	if err := router.HandleMessage(msg); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
	withFallback := NewRouter(b)
	if err := withFallback.HandleMessage(msg); err != nil || b.count() != 1 {
		t.Fatal("fallback not used")
	}
}

func TestErrorCodes(t *testing.T) {
	for _, entry := range codeTable {
		if got := ErrorFromCode(entry.code); got != entry.err {
			t.Errorf("code %d: got %v", entry.code, got)
		}
		if ErrorName(entry.err) == "" {
			t.Errorf("code %d has no name", entry.code)
		}
	}
	wrapped := &HandlerError{Err: errors.New("x")}
	if ErrorCode(wrapped) != CodeHandlerFailed {
		t.Fatalf("handler error code %d", ErrorCode(wrapped))
	}
	if ErrorCode(errors.New("other")) != 0 || ErrorFromCode(1) != nil {
		t.Fatal("unknown errors must map to zero")
	}
	if !IsTransient(&CommunicationError{Op: "submit", Err: errors.New("eof")}) || IsTransient(ErrReplicaHalted) {
		t.Fatal("transient classification wrong")
	}
}
