// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.
//
// Copyright (c) DUSK NETWORK. All rights reserved.

// Command consensusnode runs a bundled, single-process demonstration
// of the consensus core: three provisioners, each spinning its own
// round.Driver, bridged through in-memory channels standing in for
// the (out-of-scope) p2p transport. Uses logrus for progress output
// and defer'd panic recovery.
package main

import (
	"context"
	"crypto/rand"
	"os"
	"time"

	"github.com/dusk-protocol/consensus/pkg/config"
	"github.com/dusk-protocol/consensus/pkg/core/consensus"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/message"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/round"
	"github.com/dusk-protocol/consensus/pkg/core/consensus/user"
	"github.com/dusk-protocol/consensus/pkg/crypto/bls"
	"github.com/dusk-protocol/consensus/pkg/util/nativeutils/eventbus"
	lg "github.com/sirupsen/logrus"
)

var log = lg.WithField("process", "consensusnode")

const nodeCount = 3

func main() {
	defer handlePanic()

	if path := os.Getenv("CONSENSUS_CONFIG"); path != "" {
		if err := config.Load(path); err != nil {
			log.WithError(err).Fatal("failed loading configuration")
		}
	}

	keys := generateKeys(nodeCount)
	provisioners := provisionersFromKeys(keys)

	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		log.WithError(err).Fatal("failed seeding round")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	bridge := make(chan message.Message, 1000)
	var inbounds []chan message.Message

	for i, k := range keys {
		inbound := make(chan message.Message, 10)
		outbound := make(chan message.Message, 10)
		inbounds = append(inbounds, inbound)

		ru := consensus.RoundUpdate{
			Round:        0,
			PubKeyBLS:    k.pub,
			SecretKeyBLS: k.sec,
			Seed:         seed,
			Provisioners: provisioners,
		}

		go spawnNode(ctx, i, ru, inbound, outbound)

		go func(out <-chan message.Message) {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-out:
					if !ok {
						return
					}
					select {
					case bridge <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(outbound)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-bridge:
				if !ok {
					return
				}
				for _, in := range inbounds {
					select {
					case in <- msg:
					default:
					}
				}
			}
		}
	}()

	<-ctx.Done()
	log.Info("demonstration run complete")
}

func spawnNode(ctx context.Context, index int, ru consensus.RoundUpdate, inbound chan message.Message, outbound chan message.Message) {
	nodeLog := log.WithField("node", index)

	bus := eventbus.New()
	bus.Subscribe(eventbus.TopicWinningBlockHash, eventbus.NewCallbackListener(func(e eventbus.Event) error {
		nodeLog.WithField("block_hash", e.BlockHash).Info("round finalized")
		return nil
	}))

	d := round.NewDriver(bus)
	result := d.Spin(ctx, ru, inbound, outbound)

	if result.Finalized {
		nodeLog.WithField("height", result.Block.Header.Height).Info("consensus reached agreement")
	} else {
		nodeLog.Warn("round exhausted its step budget without agreement")
	}
}

type keypair struct {
	sec bls.SecretKey
	pub bls.PublicKey
}

func generateKeys(n int) []keypair {
	keys := make([]keypair, n)
	for i := range keys {
		var seed [32]byte
		seed[0] = byte(i + 1)
		sk, pk := bls.Generate(seed)
		keys[i] = keypair{sec: sk, pub: pk}
	}
	return keys
}

func provisionersFromKeys(keys []keypair) *user.Provisioners {
	p := user.NewProvisioners()
	for i, k := range keys {
		p.Add(user.Provisioner{
			PublicKey:    k.pub,
			Stake:        uint64(1000*(i+1)) * user.DUSK,
			EligibleFrom: 0,
		})
	}
	return p
}

func handlePanic() {
	if r := recover(); r != nil {
		log.Errorf("recovered from panic: %v", r)
	}
}
