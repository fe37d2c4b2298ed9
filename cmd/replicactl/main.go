// Copyright 2025 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// replicactl inspects and drives a replica over JSON-RPC.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"
	"github.com/xrelay/replica/api"
	"github.com/xrelay/replica/client"
	"github.com/xrelay/replica/core/merkle"
	"github.com/xrelay/replica/core/types"
	"github.com/xrelay/replica/ledger"
)

var (
	app = &cli.App{
		Name:  "replicactl",
		Usage: "Inspect and drive a replica over JSON-RPC",
	}

	rpcEndpointFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "Replica JSON-RPC endpoint",
		Value: "http://localhost:8570",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Timeout for each command",
		Value: 30 * time.Second,
	}

	keyFileFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "File holding the updater's hex encoded private key",
		Required: true,
	}
	originFlag = &cli.UintFlag{
		Name:     "origin",
		Usage:    "Origin domain of the update",
		Required: true,
	}
	previousRootFlag = &cli.StringFlag{
		Name:     "previous",
		Usage:    "Root the update builds on",
		Required: true,
	}
	newRootFlag = &cli.StringFlag{
		Name:     "new",
		Usage:    "Root the update commits to",
		Required: true,
	}
	submitFlag = &cli.BoolFlag{
		Name:  "submit",
		Usage: "Submit the signed update instead of only printing it",
	}
	oldRootFilterFlag = &cli.StringFlag{
		Name:  "old",
		Usage: "Only list updates building on this root",
	}
	newRootFilterFlag = &cli.StringFlag{
		Name:  "new",
		Usage: "Only list updates committing to this root",
	}
	messageFlag = &cli.StringFlag{
		Name:     "message",
		Usage:    "Hex encoded stamped message",
		Required: true,
	}
	proofFlag = &cli.StringFlag{
		Name:     "proof",
		Usage:    "Comma separated merkle proof, leaf level first",
		Required: true,
	}
	indexFlag = &cli.UintFlag{
		Name:  "index",
		Usage: "Leaf index of the message",
	}

	statusCommand = &cli.Command{
		Name:   "status",
		Usage:  "Print the replica state",
		Action: status,
	}
	confirmCommand = &cli.Command{
		Name:   "confirm",
		Usage:  "Confirm the pending update",
		Action: confirm,
	}
	signUpdateCommand = &cli.Command{
		Name:   "sign-update",
		Usage:  "Sign an update with the updater key",
		Flags:  []cli.Flag{keyFileFlag, originFlag, previousRootFlag, newRootFlag, submitFlag},
		Action: signUpdate,
	}
	doubleUpdateCommand = &cli.Command{
		Name:      "double-update",
		Usage:     "Submit two conflicting signed updates as equivocation evidence",
		ArgsUsage: "<first.json> <second.json>",
		Action:    doubleUpdate,
	}
	updatesCommand = &cli.Command{
		Name:   "updates",
		Usage:  "List accepted signed updates",
		Flags:  []cli.Flag{oldRootFilterFlag, newRootFilterFlag},
		Action: listUpdates,
	}
	processCommand = &cli.Command{
		Name:   "process",
		Usage:  "Prove and process a message",
		Flags:  []cli.Flag{messageFlag, proofFlag, indexFlag},
		Action: proveAndProcess,
	}
	receiptCommand = &cli.Command{
		Name:      "receipt",
		Usage:     "Print the outcome of a submitted transaction",
		ArgsUsage: "<txhash>",
		Action:    receipt,
	}
)

func init() {
	app.Flags = []cli.Flag{rpcEndpointFlag, timeoutFlag}
	app.Commands = []*cli.Command{
		statusCommand,
		confirmCommand,
		signUpdateCommand,
		doubleUpdateCommand,
		updatesCommand,
		processCommand,
		receiptCommand,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dial connects to the replica named by the global flags.
func dial(ctx *cli.Context) (*client.Replica, *client.RPCBackend, context.Context, context.CancelFunc) {
	backend := client.NewRPCBackend(ctx.String(rpcEndpointFlag.Name))
	cctx, cancel := context.WithTimeout(ctx.Context, ctx.Duration(timeoutFlag.Name))
	return client.NewReplica("replica", 0, backend), backend, cctx, cancel
}

func printJSON(ctx *cli.Context, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(out))
	return err
}

// printOutcome prints the receipt of a submission. A rejected submission
// still has a receipt, which is printed before the error is returned.
func printOutcome(ctx *cli.Context, out *types.Outcome, err error) error {
	var rejected *client.RejectedError
	if errors.As(err, &rejected) && rejected.Outcome != nil {
		out = rejected.Outcome
	}
	if out != nil {
		if perr := printJSON(ctx, api.ToRPCOutcome(out)); perr != nil {
			return perr
		}
	}
	return err
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(b), nil
}

type statusReport struct {
	LocalDomain  uint32         `json:"localDomain"`
	Updater      common.Address `json:"updater"`
	State        string         `json:"state"`
	CurrentRoot  common.Hash    `json:"currentRoot"`
	PreviousRoot common.Hash    `json:"previousRoot"`
	Pending      *pendingReport `json:"pending,omitempty"`
	CanConfirm   bool           `json:"canConfirm"`
}

type pendingReport struct {
	Root      common.Hash `json:"root"`
	ConfirmAt uint64      `json:"confirmAt"`
	Deadline  time.Time   `json:"deadline"`
}

func status(ctx *cli.Context) error {
	r, backend, cctx, cancel := dial(ctx)
	defer cancel()
	defer backend.Close()

	var (
		report  statusReport
		err     error
		state   types.Phase
		pending *types.Pending
	)
	if report.LocalDomain, err = r.LocalDomain(cctx); err != nil {
		return err
	}
	if report.Updater, err = r.Updater(cctx); err != nil {
		return err
	}
	if state, err = r.State(cctx); err != nil {
		return err
	}
	report.State = state.String()
	if report.CurrentRoot, err = r.CurrentRoot(cctx); err != nil {
		return err
	}
	if report.PreviousRoot, err = r.PreviousRoot(cctx); err != nil {
		return err
	}
	if pending, err = r.NextPending(cctx); err != nil {
		return err
	}
	if pending != nil {
		report.Pending = &pendingReport{Root: pending.Root, ConfirmAt: pending.ConfirmAt, Deadline: pending.Deadline().UTC()}
	}
	if report.CanConfirm, err = r.CanConfirm(cctx); err != nil {
		return err
	}
	return printJSON(ctx, &report)
}

func confirm(ctx *cli.Context) error {
	r, backend, cctx, cancel := dial(ctx)
	defer cancel()
	defer backend.Close()

	out, err := r.Confirm(cctx)
	return printOutcome(ctx, out, err)
}

func signUpdate(ctx *cli.Context) error {
	key, err := crypto.LoadECDSA(ctx.String(keyFileFlag.Name))
	if err != nil {
		return fmt.Errorf("failed to load key: %w", err)
	}
	prev, err := parseHash(ctx.String(previousRootFlag.Name))
	if err != nil {
		return err
	}
	next, err := parseHash(ctx.String(newRootFlag.Name))
	if err != nil {
		return err
	}
	origin := ctx.Uint(originFlag.Name)
	if uint64(origin) > uint64(^uint32(0)) {
		return fmt.Errorf("origin domain %d out of range", origin)
	}
	su, err := types.SignUpdate(types.Update{
		OriginDomain: uint32(origin),
		PreviousRoot: prev,
		NewRoot:      next,
	}, key)
	if err != nil {
		return err
	}
	if !ctx.Bool(submitFlag.Name) {
		return printJSON(ctx, su)
	}
	r, backend, cctx, cancel := dial(ctx)
	defer cancel()
	defer backend.Close()

	out, err := r.Update(cctx, su)
	return printOutcome(ctx, out, err)
}

func readSignedUpdate(file string) (*types.SignedUpdate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var su types.SignedUpdate
	if err := json.Unmarshal(data, &su); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return &su, nil
}

func doubleUpdate(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("expected two signed update files, got %d", ctx.NArg())
	}
	first, err := readSignedUpdate(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	second, err := readSignedUpdate(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	r, backend, cctx, cancel := dial(ctx)
	defer cancel()
	defer backend.Close()

	out, err := r.DoubleUpdate(cctx, &types.DoubleUpdate{*first, *second})
	return printOutcome(ctx, out, err)
}

func listUpdates(ctx *cli.Context) error {
	var filter ledger.UpdateFilter
	if s := ctx.String(oldRootFilterFlag.Name); s != "" {
		root, err := parseHash(s)
		if err != nil {
			return err
		}
		filter.OldRoot = &root
	}
	if s := ctx.String(newRootFilterFlag.Name); s != "" {
		root, err := parseHash(s)
		if err != nil {
			return err
		}
		filter.NewRoot = &root
	}
	backend := client.NewRPCBackend(ctx.String(rpcEndpointFlag.Name))
	defer backend.Close()
	cctx, cancel := context.WithTimeout(ctx.Context, ctx.Duration(timeoutFlag.Name))
	defer cancel()

	updates, err := backend.FilterUpdates(cctx, &filter)
	if err != nil {
		return err
	}
	if updates == nil {
		updates = []*types.SignedUpdate{}
	}
	return printJSON(ctx, updates)
}

func proveAndProcess(ctx *cli.Context) error {
	message, err := hexutil.Decode(ctx.String(messageFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	var hashes []common.Hash
	for _, s := range strings.Split(ctx.String(proofFlag.Name), ",") {
		h, err := parseHash(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		hashes = append(hashes, h)
	}
	proof, err := merkle.ProofFromHashes(hashes)
	if err != nil {
		return err
	}
	index := ctx.Uint(indexFlag.Name)
	if uint64(index) > uint64(^uint32(0)) {
		return fmt.Errorf("leaf index %d out of range", index)
	}
	r, backend, cctx, cancel := dial(ctx)
	defer cancel()
	defer backend.Close()

	out, err := r.ProveAndProcess(cctx, message, proof, uint32(index))
	return printOutcome(ctx, out, err)
}

func receipt(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected a transaction hash")
	}
	txHash, err := parseHash(ctx.Args().First())
	if err != nil {
		return err
	}
	r, backend, cctx, cancel := dial(ctx)
	defer cancel()
	defer backend.Close()

	out, err := r.Status(cctx, txHash)
	if err != nil {
		return err
	}
	return printJSON(ctx, api.ToRPCOutcome(out))
}
