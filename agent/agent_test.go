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

package agent

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/xrelay/replica/client"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/replica"
	"github.com/xrelay/replica/core/types"
	"github.com/xrelay/replica/ledger"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/ethereum/go-ethereum/metrics.(*meterArbiter).tick"))
}

const (
	localDomain  = 7
	remoteDomain = 5
)

var genesisRoot = common.HexToHash("0xa0")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// homeChain is an UpdateSource backed by a map.
type homeChain struct {
	mu      sync.Mutex
	updates map[common.Hash]*types.SignedUpdate
	err     error
}

func (h *homeChain) SignedUpdateByOldRoot(ctx context.Context, root common.Hash) (*types.SignedUpdate, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return h.updates[root], nil
}

type env struct {
	key     *ecdsa.PrivateKey
	clock   *testClock
	core    *replica.Replica
	replica *client.Replica
	home    *homeChain

	mu      sync.Mutex
	handled []*types.StampedMessage
}

func newEnv(t *testing.T, delay uint64) *env {
	t.Helper()
	key, _ := crypto.GenerateKey()
	e := &env{
		key:   key,
		clock: &testClock{now: time.Unix(1_700_000_000, 0)},
		home:  &homeChain{updates: make(map[common.Hash]*types.SignedUpdate)},
	}
	db := memorydb.New()
	r, err := replica.New(db, &replica.Config{
		Domain:            localDomain,
		RemoteDomain:      remoteDomain,
		Updater:           crypto.PubkeyToAddress(key.PublicKey),
		InitialRoot:       genesisRoot,
		OptimisticSeconds: delay,
		Clock:             e.clock,
	}, replica.HandlerFunc(func(msg *types.StampedMessage) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.handled = append(e.handled, msg)
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)
	e.core = r
	e.replica = client.NewReplica("test", localDomain, ledger.New(r, db))
	return e
}

func (e *env) sign(t *testing.T, prev, next common.Hash) *types.SignedUpdate {
	t.Helper()
	su, err := types.SignUpdate(types.Update{OriginDomain: remoteDomain, PreviousRoot: prev, NewRoot: next}, e.key)
	if err != nil {
		t.Fatal(err)
	}
	return su
}

// publish adds prev->next to the home chain.
func (e *env) publish(t *testing.T, prev, next common.Hash) *types.SignedUpdate {
	su := e.sign(t, prev, next)
	e.home.mu.Lock()
	e.home.updates[prev] = su
	e.home.mu.Unlock()
	return su
}

func (e *env) handledCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handled)
}

func TestRelayerFollowsHomeChain(t *testing.T) {
	e := newEnv(t, 0)
	r1, r2 := common.HexToHash("0xa1"), common.HexToHash("0xa2")
	e.publish(t, genesisRoot, r1)
	e.publish(t, r1, r2)

	phase := NewPhaseTracker()
	relayer := NewRelayer(e.replica, e.home, time.Second, phase)
	ctx := context.Background()

	// genesis -> r1 pending
	if err := relayer.step(ctx); err != nil {
		t.Fatal(err)
	}
	if p := e.core.Pending(); p == nil || p.Root != r1 {
		t.Fatalf("pending %v", p)
	}
	if phase.Current() != PhaseSyncing {
		t.Fatalf("phase %s", phase.Current())
	}
	// confirm r1, relay r1 -> r2
	e.clock.advance(time.Second)
	if err := relayer.step(ctx); err != nil {
		t.Fatal(err)
	}
	if e.core.CurrentRoot() != r1 || e.core.Pending().Root != r2 {
		t.Fatalf("current %x pending %v", e.core.CurrentRoot(), e.core.Pending())
	}
	// confirm r2, nothing left to relay
	e.clock.advance(time.Second)
	if err := relayer.step(ctx); err != nil {
		t.Fatal(err)
	}
	if e.core.CurrentRoot() != r2 || e.core.Pending() != nil {
		t.Fatal("relayer did not reach the home tip")
	}
	if phase.Current() != PhaseSynced || phase.SyncedSince().IsZero() {
		t.Fatalf("phase %s", phase.Current())
	}
}

func TestRelayerWaitsOutDelay(t *testing.T) {
	e := newEnv(t, 60)
	r1 := common.HexToHash("0xa1")
	e.publish(t, genesisRoot, r1)
	relayer := NewRelayer(e.replica, e.home, time.Second, NewPhaseTracker())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := relayer.step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if e.core.CurrentRoot() != genesisRoot {
		t.Fatal("confirmed before the optimistic delay")
	}
	e.clock.advance(time.Minute)
	if err := relayer.step(ctx); err != nil {
		t.Fatal(err)
	}
	if e.core.CurrentRoot() != r1 {
		t.Fatal("not confirmed after the optimistic delay")
	}
}

func TestRelayerStopsOnHalt(t *testing.T) {
	e := newEnv(t, 0)
	d := types.DoubleUpdate{*e.sign(t, genesisRoot, common.HexToHash("0x01")), *e.sign(t, genesisRoot, common.HexToHash("0x02"))}
	if err := e.core.SubmitDoubleUpdate(&d); err != nil {
		t.Fatal(err)
	}
	phase := NewPhaseTracker()
	relayer := NewRelayer(e.replica, e.home, time.Millisecond, phase)

	err := relayer.Run(context.Background())
	if !errors.Is(err, replica.ErrReplicaHalted) {
		t.Fatalf("expected ErrReplicaHalted, got %v", err)
	}
	if phase.Current() != PhaseHalted {
		t.Fatalf("phase %s", phase.Current())
	}
	phase.UpdatePhase(false)
	if phase.Current() != PhaseHalted {
		t.Fatal("halted phase is not terminal")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newEnv(t, 0)
	e.home.err = errors.New("home unreachable")
	relayer := NewRelayer(e.replica, e.home, time.Millisecond, NewPhaseTracker())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relayer.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("relayer did not stop")
	}
}

func TestWatcherReportsConflictWithHome(t *testing.T) {
	e := newEnv(t, 60)
	ctx := context.Background()

	// The replica accepted genesis -> 0x01 while the home chain published
	// genesis -> 0x02.
	if _, err := e.replica.Update(ctx, e.sign(t, genesisRoot, common.HexToHash("0x01"))); err != nil {
		t.Fatal(err)
	}
	e.publish(t, genesisRoot, common.HexToHash("0x02"))

	phase := NewPhaseTracker()
	watcher := NewWatcher(e.replica, e.home, time.Second, phase)
	err := watcher.step(ctx)
	if !errors.Is(err, replica.ErrReplicaHalted) {
		t.Fatalf("expected ErrReplicaHalted after reporting, got %v", err)
	}
	if e.core.Phase() != types.PhaseFailed {
		t.Fatal("replica not failed")
	}
	if e.core.Pending() != nil {
		t.Fatal("pending update survived the double update")
	}
}

func TestWatcherIgnoresConsistentHistory(t *testing.T) {
	e := newEnv(t, 60)
	ctx := context.Background()
	su := e.publish(t, genesisRoot, common.HexToHash("0x01"))
	if _, err := e.replica.Update(ctx, su); err != nil {
		t.Fatal(err)
	}
	// Not signed by the updater: never evidence.
	other, _ := crypto.GenerateKey()
	forged, _ := types.SignUpdate(types.Update{OriginDomain: remoteDomain, PreviousRoot: common.HexToHash("0x01"), NewRoot: common.HexToHash("0x03")}, other)
	e.home.updates[common.HexToHash("0x01")] = forged
	if _, err := e.replica.Update(ctx, e.sign(t, common.HexToHash("0x01"), common.HexToHash("0x04"))); err != nil {
		t.Fatal(err)
	}

	watcher := NewWatcher(e.replica, e.home, time.Second, NewPhaseTracker())
	if err := watcher.step(ctx); err != nil {
		t.Fatal(err)
	}
	if e.core.Phase() != types.PhaseWaiting {
		t.Fatal("watcher reported a consistent history")
	}
}

func TestWatcherSeesReplacedPending(t *testing.T) {
	e := newEnv(t, 60)
	ctx := context.Background()

	// Both updates build on genesis: the second replaces the pending one.
	for _, root := range []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")} {
		if _, err := e.replica.Update(ctx, e.sign(t, genesisRoot, root)); err != nil {
			t.Fatal(err)
		}
	}
	watcher := NewWatcher(e.replica, nil, time.Second, NewPhaseTracker())
	if err := watcher.step(ctx); !errors.Is(err, replica.ErrReplicaHalted) {
		t.Fatalf("expected ErrReplicaHalted, got %v", err)
	}
}

// buildMessages returns a tree over messages for the local domain carrying
// bodies.
func (e *env) buildMessages(t *testing.T, bodies ...string) (*merkle.Tree, [][]byte) {
	t.Helper()
	tree := merkle.NewTree()
	var msgs [][]byte
	for i, body := range bodies {
		msg := (&types.StampedMessage{Origin: remoteDomain, Sender: common.BigToHash(common.Big1), Nonce: uint32(i), Destination: localDomain, Body: []byte(body)}).Encode()
		if _, err := tree.Append(crypto.Keccak256Hash(msg)); err != nil {
			t.Fatal(err)
		}
		msgs = append(msgs, msg)
	}
	return tree, msgs
}

func (e *env) confirm(t *testing.T, root common.Hash) {
	t.Helper()
	ctx := context.Background()
	prev := e.core.CurrentRoot()
	if _, err := e.replica.Update(ctx, e.sign(t, prev, root)); err != nil {
		t.Fatal(err)
	}
	e.clock.advance(time.Duration(e.core.OptimisticSeconds()+1) * time.Second)
	if _, err := e.replica.Confirm(ctx); err != nil {
		t.Fatal(err)
	}
}

func message(t *testing.T, tree *merkle.Tree, msgs [][]byte, i int) *Message {
	t.Helper()
	proof, err := tree.Proof(uint32(i))
	if err != nil {
		t.Fatal(err)
	}
	return &Message{Message: msgs[i], Proof: *proof, Index: uint32(i)}
}

func TestProcessorProcessesAndSkips(t *testing.T) {
	e := newEnv(t, 0)
	tree, msgs := e.buildMessages(t, "a", "b")
	e.confirm(t, tree.Root())

	queue := NewQueue(4)
	p := NewProcessor(e.replica, queue, 0, 1, time.Hour, NewPhaseTracker())
	ctx := context.Background()

	for _, m := range []*Message{message(t, tree, msgs, 0), message(t, tree, msgs, 1), message(t, tree, msgs, 0)} {
		if err := queue.Enqueue(m); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := p.step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if n := e.handledCount(); n != 2 {
		t.Fatalf("handled %d messages, want 2", n)
	}
	if queue.Len() != 0 || p.Deferred() != 0 {
		t.Fatalf("queue %d deferred %d", queue.Len(), p.Deferred())
	}
}

func TestProcessorDefersUntilRootConfirmed(t *testing.T) {
	e := newEnv(t, 0)
	tree, msgs := e.buildMessages(t, "late")

	queue := NewQueue(1)
	p := NewProcessor(e.replica, queue, 0, 1, 0, NewPhaseTracker())
	ctx := context.Background()

	queue.Enqueue(message(t, tree, msgs, 0))
	if err := p.step(ctx); err != nil {
		t.Fatal(err)
	}
	if p.Deferred() != 1 || e.handledCount() != 0 {
		t.Fatal("message not deferred")
	}

	e.confirm(t, tree.Root())
	if err := p.step(ctx); err != nil {
		t.Fatal(err)
	}
	if p.Deferred() != 0 || e.handledCount() != 1 {
		t.Fatalf("deferred %d handled %d", p.Deferred(), e.handledCount())
	}
}

func TestProcessorDropsForeignMessages(t *testing.T) {
	e := newEnv(t, 0)
	msg := (&types.StampedMessage{Origin: remoteDomain, Destination: 99, Body: []byte("x")}).Encode()
	tree := merkle.NewTree(crypto.Keccak256Hash(msg))
	e.confirm(t, tree.Root())

	queue := NewQueue(1)
	p := NewProcessor(e.replica, queue, 0, 1, 0, NewPhaseTracker())
	queue.Enqueue(message(t, tree, [][]byte{msg}, 0))
	if err := p.step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.Deferred() != 0 || e.handledCount() != 0 {
		t.Fatal("foreign message was not dropped")
	}
}

// brokenReplica fails every submission with an error outside the protocol
// taxonomy.
type brokenReplica struct {
	Replica
	err error
}

func (r *brokenReplica) IsProcessed(context.Context, common.Hash) (bool, error) {
	return false, nil
}

func (r *brokenReplica) ProveAndProcess(context.Context, []byte, *merkle.Proof, uint32) (*types.Outcome, error) {
	return nil, r.err
}

func TestProcessorDefersUnclassifiedFailures(t *testing.T) {
	e := newEnv(t, 0)
	tree, msgs := e.buildMessages(t, "disk")
	broken := &brokenReplica{err: errors.New("failed to persist replica state")}

	queue := NewQueue(1)
	p := NewProcessor(broken, queue, 0, 1, time.Hour, NewPhaseTracker())
	queue.Enqueue(message(t, tree, msgs, 0))
	if err := p.step(context.Background()); !errors.Is(err, broken.err) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if p.Deferred() != 1 {
		t.Fatalf("message not kept for retry, deferred=%d", p.Deferred())
	}
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(1)
	if err := q.Enqueue(&Message{}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(&Message{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Next(ctx); err != nil {
		// A queued message wins or the cancellation does; both are fine
		// as long as the call returns.
		if !errors.Is(err, context.Canceled) {
			t.Fatal(err)
		}
	}
}

func TestRelayAPIEnqueue(t *testing.T) {
	e := newEnv(t, 0)
	tree, msgs := e.buildMessages(t, "api")
	queue := NewQueue(2)
	phase := NewPhaseTracker()
	api := NewRelayAPI(queue, phase)

	proof, _ := tree.Proof(0)
	id, err := api.Enqueue(msgs[0], proof.Hashes(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if id != types.MessageID(crypto.Keccak256Hash(msgs[0]), 0) {
		t.Fatal("wrong message id")
	}
	if _, err := api.Enqueue(msgs[0], proof.Hashes()[:5], 0); !errors.Is(err, merkle.ErrMalformedProof) {
		t.Fatalf("expected ErrMalformedProof, got %v", err)
	}
	if _, err := api.Enqueue([]byte{1, 2}, proof.Hashes(), 0); err == nil {
		t.Fatal("short message accepted")
	}
	status := api.Status()
	if status["queued"] != 1 || status["phase"] != string(PhaseInitializing) {
		t.Fatalf("status %v", status)
	}
}
