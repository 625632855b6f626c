// Copyright 2017 Vector Creations Ltd
// Copyright 2018 New Vector Ltd
// Copyright 2019-2020 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue implements OutgoingQueues: one FIFO worker per destination
// server, each draining that destination's pending PDUs/EDUs into batched
// transactions with exponential backoff on failure (§4.8). Grounded on the
// transaction-batching shape of
// other_examples/962b2bcb_sfPlayer1-dendrite__federationapi-routing-send.go.go's
// inbound Send handler, turned around to build the outbound equivalent, and
// on FederationAPI's existing backoff bookkeeping
// (federationapi/api/api.go's IsBlacklisted/MarkServerFailure/MarkServerAlive).
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/storage"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

var queueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "ferretcannon",
		Subsystem: "federationapi",
		Name:      "queue_depth_pdus",
		Help:      "Number of PDUs queued for delivery to a destination",
	},
	[]string{"destination"},
)

func init() {
	prometheus.MustRegister(queueDepth)
}

// maxPDUsPerTransaction/maxEDUsPerTransaction mirror routing.Send's own
// transaction-size cap, applied here on the sending side.
const (
	maxPDUsPerTransaction = 50
	maxEDUsPerTransaction = 100
	retryBackoffStep      = 2 * time.Second
)

// OutgoingQueues owns one worker goroutine per destination server, each
// responsible for draining that destination's durable pending queue
// (federationapi/storage.Database) into transactions via
// fedapi.FederationInternalAPI.SendTransaction.
type OutgoingQueues struct {
	db              storage.Database
	fsAPI           fedapi.FederationInternalAPI
	localServerName gomatrixserverlib.ServerName

	mu      sync.Mutex
	workers map[gomatrixserverlib.ServerName]chan struct{}
}

// NewOutgoingQueues constructs an OutgoingQueues and restarts a worker for
// every destination storage reports as having pending work, the way a
// restarted process picks back up where it left off.
func NewOutgoingQueues(db storage.Database, fsAPI fedapi.FederationInternalAPI, localServerName gomatrixserverlib.ServerName) *OutgoingQueues {
	oq := &OutgoingQueues{
		db:              db,
		fsAPI:           fsAPI,
		localServerName: localServerName,
		workers:         map[gomatrixserverlib.ServerName]chan struct{}{},
	}
	if destinations, err := db.PendingDestinations(context.Background()); err == nil {
		for _, dest := range destinations {
			oq.wake(dest)
		}
	}
	return oq
}

// SendEvent queues event for delivery to every destination, starting a
// worker for any destination that doesn't already have one running.
func (oq *OutgoingQueues) SendEvent(ctx context.Context, event gomatrixserverlib.HeaderedEvent, destinations []gomatrixserverlib.ServerName) error {
	for _, dest := range destinations {
		if dest == oq.localServerName {
			continue
		}
		if err := oq.db.AddPendingPDU(ctx, dest, event); err != nil {
			return err
		}
		oq.wake(dest)
	}
	return nil
}

// SendEDU queues edu for delivery to every destination the same way
// SendEvent does for PDUs.
func (oq *OutgoingQueues) SendEDU(ctx context.Context, edu gomatrixserverlib.EDU, destinations []gomatrixserverlib.ServerName) error {
	for _, dest := range destinations {
		if dest == oq.localServerName {
			continue
		}
		if err := oq.db.AddPendingEDU(ctx, dest, edu); err != nil {
			return err
		}
		oq.wake(dest)
	}
	return nil
}

// wake ensures a worker goroutine is running for destination, starting one
// if needed, and nudges it if already running so it re-checks its queue
// without waiting out its idle poll interval.
func (oq *OutgoingQueues) wake(destination gomatrixserverlib.ServerName) {
	oq.mu.Lock()
	defer oq.mu.Unlock()
	signal, ok := oq.workers[destination]
	if !ok {
		signal = make(chan struct{}, 1)
		oq.workers[destination] = signal
		go oq.runWorker(destination, signal)
	}
	select {
	case signal <- struct{}{}:
	default:
	}
}

// idlePollInterval bounds how long a worker with an empty queue waits before
// checking again, in case a SendEvent/SendEDU's wake is ever missed.
const idlePollInterval = 30 * time.Second

// runWorker drains destination's pending PDUs/EDUs into transactions one at
// a time, applying exponential backoff between failed delivery attempts.
// Never exits: an idle worker just blocks waiting for the next wake, the
// same "one long-lived goroutine per destination" shape as the teacher's
// dropped sendFIFOQueue, minus the redundant second mutex layer (see
// DESIGN.md's note on federationapi/routing for why that layer isn't
// reintroduced here).
func (oq *OutgoingQueues) runWorker(destination gomatrixserverlib.ServerName, signal chan struct{}) {
	logger := logrus.WithField("destination", destination)
	backoff := retryBackoffStep

	for {
		select {
		case <-signal:
		case <-time.After(idlePollInterval):
		}

		if oq.fsAPI.IsBlacklisted(destination) {
			continue
		}

		for {
			sent, err := oq.deliverOneTransaction(destination)
			if err != nil {
				logger.WithError(err).Warn("federationapi: transaction delivery failed, backing off")
				oq.fsAPI.MarkServerFailure(destination)
				time.Sleep(backoff)
				if backoff *= 2; backoff > time.Hour {
					backoff = time.Hour
				}
				break
			}
			backoff = retryBackoffStep
			oq.fsAPI.MarkServerAlive(destination)
			if !sent {
				break
			}
		}
	}
}

// deliverOneTransaction sends a single batch of queued PDUs/EDUs to
// destination, clearing them from storage on success. sent reports whether
// there was anything queued to send at all.
func (oq *OutgoingQueues) deliverOneTransaction(destination gomatrixserverlib.ServerName) (sent bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pdus, err := oq.db.GetPendingPDUs(ctx, destination, maxPDUsPerTransaction)
	if err != nil {
		return false, err
	}
	edus, err := oq.db.GetPendingEDUs(ctx, destination, maxEDUsPerTransaction)
	if err != nil {
		return false, err
	}
	queueDepth.WithLabelValues(string(destination)).Set(float64(len(pdus)))
	if len(pdus) == 0 && len(edus) == 0 {
		return false, nil
	}

	txn := gomatrixserverlib.Transaction{
		TransactionID:  uuid.NewString(),
		Origin:         oq.localServerName,
		OriginServerTS: time.Now().UnixMilli(),
		PDUs:           make([]json.RawMessage, 0, len(pdus)),
	}
	for _, p := range pdus {
		txn.PDUs = append(txn.PDUs, json.RawMessage(p.JSON))
	}
	eduIDs := make([]int64, 0, len(edus))
	for _, e := range edus {
		var edu gomatrixserverlib.EDU
		if err := json.Unmarshal(e.JSON, &edu); err == nil {
			txn.EDUs = append(txn.EDUs, edu)
		}
		eduIDs = append(eduIDs, e.ID)
	}

	if _, err := oq.fsAPI.SendTransaction(ctx, destination, txn); err != nil {
		return true, err
	}

	eventIDs := make([]string, len(pdus))
	for i, p := range pdus {
		eventIDs[i] = p.EventID
	}
	if err := oq.db.CleanPendingPDUs(ctx, destination, eventIDs); err != nil {
		return true, err
	}
	if err := oq.db.CleanPendingEDUs(ctx, destination, eduIDs); err != nil {
		return true, err
	}
	return true, nil
}
