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

package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/matrix-org/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

var (
	pduCountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ferretcannon",
			Subsystem: "federationapi",
			Name:      "recv_pdus",
			Help:      "Number of incoming PDUs from remote servers, labelled by outcome",
		},
		[]string{"outcome"},
	)
	eduCountTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ferretcannon",
			Subsystem: "federationapi",
			Name:      "recv_edus",
			Help:      "Number of incoming EDUs from remote servers",
		},
	)
)

func init() {
	prometheus.MustRegister(pduCountTotal, eduCountTotal)
}

// EDUWriter is implemented by the EDU bus, narrowed to the one thing
// federation transaction handling needs: handing over a raw inbound EDU for
// per-type routing (typing, receipts, presence, device-list, to-device).
// Declared here rather than imported from the eduserver package so this
// package carries no dependency on a component layered on top of it.
type EDUWriter interface {
	InputEDU(ctx context.Context, origin gomatrixserverlib.ServerName, edu gomatrixserverlib.EDU) error
}

// NopEDUWriter discards every EDU, logging it at debug level. Used when no
// EDU bus has been wired in yet.
type NopEDUWriter struct{}

func (NopEDUWriter) InputEDU(ctx context.Context, origin gomatrixserverlib.ServerName, edu gomatrixserverlib.EDU) error {
	util.GetLogger(ctx).WithFields(logrus.Fields{
		"origin": origin,
		"type":   edu.Type,
	}).Debug("federationapi: dropping EDU, no EDU bus wired")
	return nil
}

// transactionLimits caps transaction size per the spec's "at most 50 PDUs
// and 100 EDUs" rule.
const (
	maxPDUsPerTransaction = 50
	maxEDUsPerTransaction = 100
)

// Send implements PUT /_matrix/federation/v1/send/{txnID}: the sole entry
// point inbound PDUs and EDUs from other servers arrive through.
func Send(
	httpReq *http.Request,
	origin gomatrixserverlib.ServerName,
	txnID gomatrixserverlib.TransactionID,
	rsAPI rsapi.RoomserverInternalAPI,
	eduWriter EDUWriter,
) util.JSONResponse {
	var txn struct {
		PDUs []json.RawMessage       `json:"pdus"`
		EDUs []gomatrixserverlib.EDU `json:"edus"`
	}
	if err := json.NewDecoder(httpReq.Body).Decode(&txn); err != nil {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: jsonerror.NotJSON("the request body could not be decoded into valid JSON: " + err.Error()),
		}
	}
	if len(txn.PDUs) > maxPDUsPerTransaction || len(txn.EDUs) > maxEDUsPerTransaction {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: jsonerror.BadJSON("transaction exceeds the 50 pdu / 100 edu limit"),
		}
	}

	util.GetLogger(httpReq.Context()).WithFields(logrus.Fields{
		"origin": origin,
		"txn_id": txnID,
		"pdus":   len(txn.PDUs),
		"edus":   len(txn.EDUs),
	}).Info("federationapi: received transaction")

	t := &txnReq{
		rsAPI:     rsAPI,
		eduWriter: eduWriter,
		origin:    origin,
	}
	resp := t.process(httpReq.Context(), txn.PDUs, txn.EDUs)

	return util.JSONResponse{Code: http.StatusOK, JSON: resp}
}

type txnReq struct {
	rsAPI     rsapi.RoomserverInternalAPI
	eduWriter EDUWriter
	origin    gomatrixserverlib.ServerName
}

// process authorizes and ingests every PDU, dispatches every EDU, and
// returns a per-event result map. Per
// https://spec.matrix.org/latest/server-server-api/#transactions, status
// 200 is used even when individual PDUs fail — the caller inspects the pdus
// map for per-event outcomes.
func (t *txnReq) process(ctx context.Context, rawPDUs []json.RawMessage, edus []gomatrixserverlib.EDU) gomatrixserverlib.RespSend {
	results := make(map[string]gomatrixserverlib.PDUResult, len(rawPDUs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, raw := range rawPDUs {
		raw := raw
		var header struct {
			RoomID string `json:"room_id"`
		}
		if err := json.Unmarshal(raw, &header); err != nil {
			pduCountTotal.WithLabelValues("bad_json").Inc()
			util.GetLogger(ctx).WithError(err).Warn("federationapi: transaction: failed to extract room_id")
			continue
		}
		roomVersion, err := t.rsAPI.QueryRoomVersionForRoom(ctx, header.RoomID)
		if err != nil {
			pduCountTotal.WithLabelValues("unknown_room").Inc()
			continue
		}
		event, err := gomatrixserverlib.NewEventFromUntrustedJSON(raw, roomVersion)
		if err != nil {
			pduCountTotal.WithLabelValues("bad_event").Inc()
			util.GetLogger(ctx).WithError(err).Warn("federationapi: transaction: failed to parse event JSON")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := t.processEvent(ctx, roomVersion, event)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				pduCountTotal.WithLabelValues("rejected").Inc()
				util.GetLogger(ctx).WithError(err).WithField("event_id", event.EventID()).Warn("federationapi: rejected incoming PDU")
				sentry.CaptureException(fmt.Errorf("federationapi: rejected PDU %s from %s: %w", event.EventID(), t.origin, err))
				results[event.EventID()] = gomatrixserverlib.PDUResult{Error: err.Error()}
			} else {
				pduCountTotal.WithLabelValues("ok").Inc()
				results[event.EventID()] = gomatrixserverlib.PDUResult{}
			}
		}()
	}
	wg.Wait()

	for i := range edus {
		eduCountTotal.Inc()
		if err := t.eduWriter.InputEDU(ctx, t.origin, edus[i]); err != nil {
			util.GetLogger(ctx).WithError(err).WithField("type", edus[i].Type).Error("federationapi: failed to route inbound EDU")
			sentry.CaptureException(fmt.Errorf("federationapi: routing EDU type %s from %s: %w", edus[i].Type, t.origin, err))
		}
	}

	return gomatrixserverlib.RespSend{PDUs: results}
}

func (t *txnReq) processEvent(ctx context.Context, roomVersion gomatrixserverlib.RoomVersion, event gomatrixserverlib.Event) error {
	var res rsapi.InputRoomEventsResponse
	t.rsAPI.InputRoomEvents(ctx, &rsapi.InputRoomEventsRequest{
		InputRoomEvents: []rsapi.InputRoomEvent{{
			Kind:   rsapi.KindNew,
			Event:  event.Headered(roomVersion),
			Origin: t.origin,
		}},
	}, &res)
	if res.ErrMsg != "" {
		return fmt.Errorf("%s", res.ErrMsg)
	}
	return nil
}
