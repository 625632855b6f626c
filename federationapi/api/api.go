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

// Package api declares the federationapi's internal API: the surface other
// components call into for outbound federation requests, key lookups, and
// server discovery, instead of constructing gomatrixserverlib.FederationClient
// calls themselves. Every synchronous call is wrapped in an opentracing span,
// the same per-method opentracing.StartSpanFromContext idiom the teacher's
// application-service HTTP polling uses, adapted here onto federation
// key/event lookups.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// ErrNoRoomServerQuerier is returned by QueryJoinedHostServerNamesInRoom when
// the FederationAPI was constructed without a roomserver querier wired in.
var ErrNoRoomServerQuerier = errors.New("federationapi: no roomserver querier configured")

// ErrNoEventReturned is returned by GetEvent when destination's response
// carries an empty PDU list for the requested event.
var ErrNoEventReturned = errors.New("federationapi: destination returned no event")

// FederationInternalAPI is the surface every other component depends on for
// talking to the wider federation.
type FederationInternalAPI interface {
	// GetEventAuth fetches the auth chain for an event from destination,
	// parsed and reverse-topologically ordered for the given room version.
	GetEventAuth(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, roomID, eventID string) ([]gomatrixserverlib.Event, error)
	// LookupServerKeys fetches destination's current signing keys, preferring
	// a configured perspective (notary) server before falling back to a
	// direct fetch, the way GetProtocolDefinition's caller in the teacher
	// tries one then falls back.
	LookupServerKeys(ctx context.Context, destination gomatrixserverlib.ServerName) (gomatrixserverlib.ServerKeys, error)
	// QueryJoinedHostServerNamesInRoom returns the distinct server names
	// with at least one joined user in roomID.
	QueryJoinedHostServerNamesInRoom(ctx context.Context, req *QueryJoinedHostServerNamesInRoomRequest, res *QueryJoinedHostServerNamesInRoomResponse) error
	// IsBlacklisted reports whether destination is currently in backoff
	// after repeated transport failures (§4.8).
	IsBlacklisted(destination gomatrixserverlib.ServerName) bool
	// MarkServerAlive clears any backoff state recorded for destination.
	MarkServerAlive(destination gomatrixserverlib.ServerName)
	// MarkServerFailure records a transport failure for destination,
	// advancing its exponential backoff.
	MarkServerFailure(destination gomatrixserverlib.ServerName)
	// KeyRing returns the JSONVerifier used to check inbound signatures.
	KeyRing() gomatrixserverlib.JSONVerifier

	// MakeJoin runs the first half of the join handshake (§4.7) against
	// destination, asking for an unsigned draft join event.
	MakeJoin(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeJoin, error)
	// SendJoin submits a signed join event, completing the handshake.
	SendJoin(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) (gomatrixserverlib.RespSendJoin, error)
	// MakeLeave runs the first half of the leave handshake.
	MakeLeave(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeJoin, error)
	// SendLeave submits a signed leave event.
	SendLeave(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) error
	// MakeKnock runs the first half of the knock handshake.
	MakeKnock(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeKnock, error)
	// SendKnock submits a signed knock event.
	SendKnock(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) (gomatrixserverlib.RespSendKnock, error)
	// SendInvite delivers a locally-signed invite to the invitee's server for
	// countersignature, returning the doubly-signed event.
	SendInvite(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent, strippedState []gomatrixserverlib.InviteV2StrippedState) (gomatrixserverlib.HeaderedEvent, error)
	// GetEvent fetches a single event by ID from destination, used by the
	// backfill performer to fill gaps in the event graph.
	GetEvent(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, eventID string) (gomatrixserverlib.Event, error)
	// LookupMissingEvents asks destination for events between a room's known
	// history and its forward extremities, the backfill performer's main tool.
	LookupMissingEvents(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, roomID string, req gomatrixserverlib.MissingEventsRequest) ([]gomatrixserverlib.Event, error)
	// SendTransaction delivers a batch of PDUs/EDUs to destination, the
	// primitive federationapi/queue's OutgoingQueues builds retry and
	// per-destination ordering on top of.
	SendTransaction(ctx context.Context, destination gomatrixserverlib.ServerName, txn gomatrixserverlib.Transaction) (gomatrixserverlib.RespSend, error)
}

// QueryJoinedHostServerNamesInRoomRequest asks which remote servers have a
// joined user in a room, the basis for deciding who to federate a new event
// to.
type QueryJoinedHostServerNamesInRoomRequest struct {
	RoomID      string
	ExcludeSelf bool
}

// QueryJoinedHostServerNamesInRoomResponse is the roomserver-backed answer.
type QueryJoinedHostServerNamesInRoomResponse struct {
	ServerNames []gomatrixserverlib.ServerName
}

// joinedServerNamesQuerier is implemented by the roomserver query API;
// narrowed here to the one method this package needs.
type joinedServerNamesQuerier interface {
	JoinedServerNamesInRoom(ctx context.Context, roomID string) ([]gomatrixserverlib.ServerName, error)
}

// FederationAPI is the concrete FederationInternalAPI implementation.
type FederationAPI struct {
	Client              *gomatrixserverlib.FederationClient
	KeyRingImpl         gomatrixserverlib.JSONVerifier
	PerspectiveServers  []gomatrixserverlib.ServerName
	RoomServerQuerier   joinedServerNamesQuerier
	LocalServerName     gomatrixserverlib.ServerName

	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration

	mu       sync.Mutex
	backoffs map[gomatrixserverlib.ServerName]*backoffState
}

type backoffState struct {
	failures  int
	blacklistedUntil time.Time
}

// NewFederationAPI builds a FederationAPI. minBackoff/maxBackoff configure
// the exponential-backoff bounds from spec.md §4.8.
func NewFederationAPI(client *gomatrixserverlib.FederationClient, keyRing gomatrixserverlib.JSONVerifier, localServerName gomatrixserverlib.ServerName, perspectiveServers []gomatrixserverlib.ServerName, minBackoff, maxBackoff time.Duration) *FederationAPI {
	return &FederationAPI{
		Client:             client,
		KeyRingImpl:        keyRing,
		PerspectiveServers: perspectiveServers,
		LocalServerName:    localServerName,
		MinRetryBackoff:    minBackoff,
		MaxRetryBackoff:    maxBackoff,
		backoffs:           map[gomatrixserverlib.ServerName]*backoffState{},
	}
}

func (f *FederationAPI) KeyRing() gomatrixserverlib.JSONVerifier { return f.KeyRingImpl }

func (f *FederationAPI) GetEventAuth(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, roomID, eventID string) ([]gomatrixserverlib.Event, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.GetEventAuth")
	defer span.Finish()

	raw, err := f.Client.GetEventAuth(ctx, destination, roomID, eventID)
	if err != nil {
		return nil, err
	}
	events := make([]gomatrixserverlib.Event, 0, len(raw))
	for _, r := range raw {
		ev, err := gomatrixserverlib.NewEventFromUntrustedJSON(r, roomVersion)
		if err != nil {
			return nil, errors.Wrap(err, "federationapi: parsing auth event")
		}
		events = append(events, ev)
	}
	return events, nil
}

// LookupServerKeys tries each configured perspective (notary) server in
// turn before falling back to a direct fetch from destination itself — the
// same "try each known handler in order, first success wins" shape as
// RoomAliasExists looping over application services.
func (f *FederationAPI) LookupServerKeys(ctx context.Context, destination gomatrixserverlib.ServerName) (gomatrixserverlib.ServerKeys, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.LookupServerKeys")
	defer span.Finish()

	for _, perspective := range f.PerspectiveServers {
		keys, err := f.Client.LookupServerKeysViaNotary(ctx, perspective, destination)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"perspective": perspective,
				"destination": destination,
			}).Warn("federationapi: perspective key lookup failed, trying next")
			continue
		}
		return keys, nil
	}
	return f.Client.LookupServerKeys(ctx, destination)
}

func (f *FederationAPI) QueryJoinedHostServerNamesInRoom(ctx context.Context, req *QueryJoinedHostServerNamesInRoomRequest, res *QueryJoinedHostServerNamesInRoomResponse) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.QueryJoinedHostServerNamesInRoom")
	defer span.Finish()

	if f.RoomServerQuerier == nil {
		return ErrNoRoomServerQuerier
	}
	names, err := f.RoomServerQuerier.JoinedServerNamesInRoom(ctx, req.RoomID)
	if err != nil {
		return err
	}
	out := names[:0]
	for _, n := range names {
		if req.ExcludeSelf && n == f.LocalServerName {
			continue
		}
		out = append(out, n)
	}
	res.ServerNames = out
	return nil
}

func (f *FederationAPI) IsBlacklisted(destination gomatrixserverlib.ServerName) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.backoffs[destination]
	if !ok {
		return false
	}
	return time.Now().Before(b.blacklistedUntil)
}

func (f *FederationAPI) MarkServerAlive(destination gomatrixserverlib.ServerName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.backoffs, destination)
}

// MarkServerFailure records a failed delivery attempt, doubling the
// destination's backoff up to MaxRetryBackoff each time, per spec.md §4.8's
// "exponential backoff with jitter, starting at 1s, doubling to a cap of 60
// minutes".
func (f *FederationAPI) MarkServerFailure(destination gomatrixserverlib.ServerName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.backoffs[destination]
	if !ok {
		b = &backoffState{}
		f.backoffs[destination] = b
	}
	b.failures++
	backoff := f.MinRetryBackoff << uint(b.failures-1)
	if backoff > f.MaxRetryBackoff || backoff <= 0 {
		backoff = f.MaxRetryBackoff
	}
	b.blacklistedUntil = time.Now().Add(jitter(backoff))
}

func jitter(d time.Duration) time.Duration {
	return d - time.Duration(float64(d)*0.1)
}

func (f *FederationAPI) MakeJoin(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeJoin, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.MakeJoin")
	defer span.Finish()
	return f.Client.MakeJoin(ctx, destination, roomID, userID)
}

func (f *FederationAPI) SendJoin(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) (gomatrixserverlib.RespSendJoin, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.SendJoin")
	defer span.Finish()
	eventJSON, err := json.Marshal(event.Event)
	if err != nil {
		return gomatrixserverlib.RespSendJoin{}, errors.Wrap(err, "federationapi: marshalling join event")
	}
	return f.Client.SendJoin(ctx, destination, event.RoomID(), event.EventID(), eventJSON)
}

func (f *FederationAPI) MakeLeave(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeJoin, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.MakeLeave")
	defer span.Finish()
	return f.Client.MakeLeave(ctx, destination, roomID, userID)
}

func (f *FederationAPI) SendLeave(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.SendLeave")
	defer span.Finish()
	eventJSON, err := json.Marshal(event.Event)
	if err != nil {
		return errors.Wrap(err, "federationapi: marshalling leave event")
	}
	return f.Client.SendLeave(ctx, destination, event.RoomID(), event.EventID(), eventJSON)
}

func (f *FederationAPI) MakeKnock(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeKnock, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.MakeKnock")
	defer span.Finish()
	return f.Client.MakeKnock(ctx, destination, roomID, userID)
}

func (f *FederationAPI) SendKnock(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) (gomatrixserverlib.RespSendKnock, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.SendKnock")
	defer span.Finish()
	eventJSON, err := json.Marshal(event.Event)
	if err != nil {
		return gomatrixserverlib.RespSendKnock{}, errors.Wrap(err, "federationapi: marshalling knock event")
	}
	return f.Client.SendKnock(ctx, destination, event.RoomID(), event.EventID(), eventJSON)
}

func (f *FederationAPI) SendInvite(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent, strippedState []gomatrixserverlib.InviteV2StrippedState) (gomatrixserverlib.HeaderedEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.SendInvite")
	defer span.Finish()
	eventJSON, err := json.Marshal(event.Event)
	if err != nil {
		return gomatrixserverlib.HeaderedEvent{}, errors.Wrap(err, "federationapi: marshalling invite event")
	}
	raw, err := f.Client.SendInviteV2(ctx, destination, event.RoomID(), event.EventID(), gomatrixserverlib.InviteV2Request{
		Event:           eventJSON,
		RoomVersion:     event.RoomVersion,
		InviteRoomState: strippedState,
	})
	if err != nil {
		return gomatrixserverlib.HeaderedEvent{}, err
	}
	signed, err := gomatrixserverlib.NewEventFromUntrustedJSON(raw, event.RoomVersion)
	if err != nil {
		return gomatrixserverlib.HeaderedEvent{}, errors.Wrap(err, "federationapi: parsing countersigned invite")
	}
	return signed.Headered(event.RoomVersion), nil
}

func (f *FederationAPI) GetEvent(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, eventID string) (gomatrixserverlib.Event, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.GetEvent")
	defer span.Finish()
	raw, err := f.Client.GetEvent(ctx, destination, eventID)
	if err != nil {
		return gomatrixserverlib.Event{}, err
	}
	if len(raw) == 0 {
		return gomatrixserverlib.Event{}, errors.Wrapf(ErrNoEventReturned, "federationapi: %q, event %q", destination, eventID)
	}
	return gomatrixserverlib.NewEventFromUntrustedJSON(raw[0], roomVersion)
}

func (f *FederationAPI) LookupMissingEvents(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, roomID string, req gomatrixserverlib.MissingEventsRequest) ([]gomatrixserverlib.Event, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.LookupMissingEvents")
	defer span.Finish()
	resp, err := f.Client.LookupMissingEvents(ctx, destination, roomID, req)
	if err != nil {
		return nil, err
	}
	events := make([]gomatrixserverlib.Event, 0, len(resp.Events))
	for _, raw := range resp.Events {
		ev, err := gomatrixserverlib.NewEventFromUntrustedJSON(raw, roomVersion)
		if err != nil {
			return nil, errors.Wrap(err, "federationapi: parsing missing event")
		}
		events = append(events, ev)
	}
	return events, nil
}

func (f *FederationAPI) SendTransaction(ctx context.Context, destination gomatrixserverlib.ServerName, txn gomatrixserverlib.Transaction) (gomatrixserverlib.RespSend, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FederationAPI.SendTransaction")
	defer span.Finish()
	return f.Client.SendTransaction(ctx, destination, txn)
}

var _ http.RoundTripper = (*loggingRoundTripper)(nil)

// loggingRoundTripper logs outbound federation requests at debug level,
// matching the call-site logging idiom used throughout the pack's HTTP
// client wrappers.
type loggingRoundTripper struct {
	next http.RoundTripper
}

func (l *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	next := l.next
	if next == nil {
		next = http.DefaultTransport
	}
	started := time.Now()
	resp, err := next.RoundTrip(req)
	logrus.WithFields(logrus.Fields{
		"method":   req.Method,
		"url":      req.URL.String(),
		"duration": time.Since(started),
	}).Debug("federationapi: outbound request")
	return resp, err
}
