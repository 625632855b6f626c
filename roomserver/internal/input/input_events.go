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

package input

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/eventutil"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal/helpers"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/state"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

func init() {
	prometheus.MustRegister(processRoomEventDuration)
}

// MaximumProcessingTime bounds how long a single InputRoomEvent may take,
// so a stuck federation lookup can't wedge the roomserver indefinitely.
const MaximumProcessingTime = time.Minute * 2

var processRoomEventDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ferretcannon",
		Subsystem: "roomserver",
		Name:      "processroomevent_duration_millis",
		Help:      "How long it takes the roomserver to process an event",
		Buckets: []float64{ // milliseconds
			5, 10, 25, 50, 75, 100, 250, 500,
			1000, 2000, 3000, 4000, 5000, 6000,
			7000, 8000, 9000, 10000, 15000, 20000,
		},
	},
	[]string{"room_id"},
)

// processRoomEvent runs one event through auth checking, state resolution,
// and forward-extremity bookkeeping. Callers must hold the room's mutex (see
// Inputer.roomMu in InputRoomEvents).
func (r *Inputer) processRoomEvent(inctx context.Context, input *api.InputRoomEvent) (err error) {
	select {
	case <-inctx.Done():
		return context.DeadlineExceeded
	default:
	}

	ctx, cancel := context.WithTimeout(inctx, MaximumProcessingTime)
	defer cancel()

	started := time.Now()
	defer func() {
		processRoomEventDuration.With(prometheus.Labels{
			"room_id": input.Event.RoomID(),
		}).Observe(float64(time.Since(started).Milliseconds()))
	}()

	headered := input.Event
	event := headered.Unwrap()
	logger := r.logger().WithFields(logrus.Fields{
		"event_id": event.EventID(),
		"room_id":  event.RoomID(),
		"type":     event.Type(),
	})

	if r.ACLs != nil && input.Origin != "" && r.ACLs.IsServerBannedFromRoom(event.RoomID(), input.Origin) {
		return fmt.Errorf("input: %s is banned from room %s by server ACL", input.Origin, event.RoomID())
	}

	// If this is an outlier we already have, there's nothing new to learn
	// from reprocessing it.
	if input.Kind == api.KindOutlier {
		if existing, _ := r.DB.EventsFromIDs(ctx, []string{event.EventID()}); len(existing) == 1 {
			logger.Debug("Already processed event; ignoring")
			return nil
		}
	}

	missingAuthIDs, missingPrevIDs := r.findMissing(ctx, event)

	var serverNames []gomatrixserverlib.ServerName
	if len(missingAuthIDs) > 0 || len(missingPrevIDs) > 0 {
		serverRes := &fedapi.QueryJoinedHostServerNamesInRoomResponse{}
		serverReq := &fedapi.QueryJoinedHostServerNamesInRoomRequest{RoomID: event.RoomID(), ExcludeSelf: true}
		if err = r.FSAPI.QueryJoinedHostServerNamesInRoom(ctx, serverReq, serverRes); err != nil {
			return fmt.Errorf("r.FSAPI.QueryJoinedHostServerNamesInRoom: %w", err)
		}
		serverNames = serverRes.ServerNames
	}
	if input.Origin != "" {
		serverNames = append(serverNames, input.Origin)
	}

	// Check that the auth events of the event are known, fetching any that
	// are missing from federation before we can run the auth check.
	isRejected := false
	authEvents, err := gomatrixserverlib.NewAuthEvents(nil)
	if err != nil {
		return fmt.Errorf("gomatrixserverlib.NewAuthEvents: %w", err)
	}
	if err = r.fetchAuthEvents(ctx, logger, headered, &authEvents, missingAuthIDs, serverNames); err != nil {
		return fmt.Errorf("r.fetchAuthEvents: %w", err)
	}

	var rejectionErr error
	if rejectionErr = gomatrixserverlib.Allowed(event, &authEvents); rejectionErr != nil {
		isRejected = true
		logger.WithError(rejectionErr).Warn("Event rejected")
	}

	var softfail bool
	if input.Kind == api.KindNew && !isRejected {
		softfail, err = helpers.CheckForSoftFail(ctx, r.DB, event, input.StateEventIDs)
		if err != nil {
			logger.WithError(err).Info("Error authing soft-failed event")
		}
	}

	// We can't calculate state from prev_events we don't have. If the
	// caller didn't hand us the state directly (the typical federated-join
	// shape) and we're missing prev events, there is nothing more we can do
	// locally for a brand new event; the caller is expected to have
	// resolved this via backfill/get_missing_events before calling us.
	if !input.HasState && len(missingPrevIDs) > 0 && input.Kind == api.KindNew {
		isRejected = true
		rejectionErr = fmt.Errorf("input: missing %d prev event(s) and no state was supplied", len(missingPrevIDs))
	}

	redactedEventID, redactionEvent, err := r.DB.StoreEvent(ctx, headered, isRejected)
	if err != nil {
		return fmt.Errorf("r.DB.StoreEvent: %w", err)
	}

	if !isRejected && redactedEventID == event.EventID() && redactionEvent != nil {
		if err = eventutil.RedactEvent(redactionEvent, &event); err != nil {
			return fmt.Errorf("eventutil.RedactEvent: %w", err)
		}
		headered = event.Headered(headered.RoomVersion)
	}

	if input.Kind == api.KindOutlier {
		logger.Debug("Stored outlier")
		return nil
	}

	roomInfo, err := r.DB.RoomInfo(ctx, event.RoomID())
	if err != nil {
		return fmt.Errorf("r.DB.RoomInfo: %w", err)
	}

	if _, err = r.calculateAndSetState(ctx, input, *roomInfo, event, isRejected); err != nil {
		return fmt.Errorf("r.calculateAndSetState: %w", err)
	}

	if isRejected || softfail {
		logger.WithError(rejectionErr).WithField("soft_fail", softfail).Debug("Stored rejected event")
		return rejectionErr
	}

	switch input.Kind {
	case api.KindNew:
		if err = helpers.UpdateMembership(ctx, r.DB, event); err != nil {
			return fmt.Errorf("helpers.UpdateMembership: %w", err)
		}
		if r.ACLs != nil && event.Type() == "m.room.server_acl" {
			if err = r.ACLs.OnServerACLUpdate(event.RoomID(), event); err != nil {
				logger.WithError(err).Warn("Failed to update server ACLs")
			}
		}
		if err = r.updateLatestEvents(ctx, event.RoomID(), headered, input.SendAsServer); err != nil {
			return fmt.Errorf("r.updateLatestEvents: %w", err)
		}
	case api.KindBackfill:
		if err = r.WriteOutputEvents(event.RoomID(), []api.OutputEvent{{
			Type: api.OutputTypeNewRoomEvent,
			NewRoomEvent: &api.OutputNewRoomEvent{
				Event:      headered,
				Historical: true,
			},
		}}); err != nil {
			return fmt.Errorf("r.WriteOutputEvents (backfill): %w", err)
		}
	}

	if redactedEventID != "" && redactionEvent != nil {
		if err = r.WriteOutputEvents(event.RoomID(), []api.OutputEvent{{
			Type: api.OutputTypeRedactedEvent,
			RedactedEvent: &api.OutputRedactedEvent{
				RedactedEventID: redactedEventID,
				RedactedBecause: redactionEvent.Headered(headered.RoomVersion),
			},
		}}); err != nil {
			return fmt.Errorf("r.WriteOutputEvents (redactions): %w", err)
		}
	}

	return nil
}

// findMissing reports which of event's auth_events and prev_events aren't
// already stored locally.
func (r *Inputer) findMissing(ctx context.Context, event gomatrixserverlib.Event) (missingAuth, missingPrev []string) {
	known := func(ids []string) []string {
		have, _ := r.DB.EventsFromIDs(ctx, ids)
		haveSet := make(map[string]bool, len(have))
		for _, ev := range have {
			haveSet[ev.EventID()] = true
		}
		var missing []string
		for _, id := range ids {
			if !haveSet[id] {
				missing = append(missing, id)
			}
		}
		return missing
	}
	return known(event.AuthEventIDs()), known(event.PrevEventIDs())
}

// fetchAuthEvents fetches any of event's auth events that aren't already
// known, from the first server in servers that has them, verifying their
// signatures and storing them before the caller runs its own auth check.
func (r *Inputer) fetchAuthEvents(
	ctx context.Context,
	logger *logrus.Entry,
	event gomatrixserverlib.HeaderedEvent,
	auth *gomatrixserverlib.AuthEvents,
	missingAuthIDs []string,
	servers []gomatrixserverlib.ServerName,
) error {
	authEventIDs := event.AuthEventIDs()
	if len(authEventIDs) == 0 {
		return nil
	}

	known, err := r.DB.EventsFromIDs(ctx, authEventIDs)
	if err != nil {
		return fmt.Errorf("r.DB.EventsFromIDs: %w", err)
	}
	for i := range known {
		if err = auth.AddEvent(&known[i].Event); err != nil {
			return fmt.Errorf("auth.AddEvent: %w", err)
		}
	}
	if len(missingAuthIDs) == 0 {
		return nil
	}

	var fetched []gomatrixserverlib.Event
	var found bool
	for _, serverName := range servers {
		fetched, err = r.FSAPI.GetEventAuth(ctx, serverName, event.RoomVersion, event.RoomID(), event.EventID())
		if err != nil {
			logger.WithError(err).WithField("server", serverName).Warn("Failed to get event auth from federation")
			continue
		}
		found = true
		break
	}
	if !found {
		return fmt.Errorf("no servers provided event auth for event %q, tried %v", event.EventID(), servers)
	}

	ordered := gomatrixserverlib.ReverseTopologicalOrdering(fetched, gomatrixserverlib.TopologicalOrderByAuthEvents)
	for i := range ordered {
		authEvent := ordered[i]
		if existing, _ := r.DB.EventsFromIDs(ctx, []string{authEvent.EventID()}); len(existing) == 1 {
			continue
		}

		if err = gomatrixserverlib.VerifyAllEventSignatures(ctx, []gomatrixserverlib.Event{authEvent}, r.FSAPI.KeyRing()); err != nil {
			return fmt.Errorf("verifying auth event %s: %w", authEvent.EventID(), err)
		}

		if err = auth.AddEvent(&authEvent); err != nil {
			return fmt.Errorf("auth.AddEvent: %w", err)
		}

		isRejected := false
		if err = gomatrixserverlib.Allowed(authEvent, auth); err != nil {
			isRejected = true
			logger.WithError(err).WithField("auth_event_id", authEvent.EventID()).Warn("Auth event rejected")
		}

		if _, _, err = r.DB.StoreEvent(ctx, authEvent.Headered(event.RoomVersion), isRejected); err != nil {
			return fmt.Errorf("r.DB.StoreEvent: %w", err)
		}
	}

	return nil
}

// calculateAndSetState computes (or, for a federated join where the state
// was handed to us directly, records) the state immediately before event,
// and returns the state group it was stored as.
func (r *Inputer) calculateAndSetState(
	ctx context.Context,
	input *api.InputRoomEvent,
	roomInfo storage.RoomInfo,
	event gomatrixserverlib.Event,
	isRejected bool,
) (int64, error) {
	roomState := state.NewStateResolution(r.DB, roomInfo)

	var stateGroup int64
	if input.HasState && !isRejected {
		entries, err := r.DB.StateEntriesForEventIDs(ctx, input.StateEventIDs)
		if err != nil {
			return 0, fmt.Errorf("r.DB.StateEntriesForEventIDs: %w", err)
		}
		stateGroup, err = r.DB.AddState(ctx, roomInfo.RoomID, 0, nil, entries)
		if err != nil {
			return 0, fmt.Errorf("r.DB.AddState: %w", err)
		}
	} else {
		sg, err := roomState.CalculateAndStoreStateBeforeEvent(ctx, event, isRejected)
		if err != nil {
			return 0, fmt.Errorf("roomState.CalculateAndStoreStateBeforeEvent: %w", err)
		}
		stateGroup = sg
	}

	if err := r.DB.SetState(ctx, event.EventID(), stateGroup); err != nil {
		return 0, fmt.Errorf("r.DB.SetState: %w", err)
	}
	return stateGroup, nil
}

// updateLatestEvents advances roomID's forward extremities past event and
// publishes the resulting OutputNewRoomEvent. The state delta this reports
// is simplified relative to dendrite's full before/after state-group diff:
// it reports event itself as an added state event when it is one, but does
// not compute removed state events from a multi-way extremity merge — a
// room with concurrent forward extremities relies on downstream consumers
// re-deriving state from the event graph rather than from this delta alone.
func (r *Inputer) updateLatestEvents(ctx context.Context, roomID string, event gomatrixserverlib.HeaderedEvent, sendAsServer string) error {
	oldLatest, oldDepth, err := r.DB.LatestEvents(ctx, roomID)
	if err != nil {
		return fmt.Errorf("r.DB.LatestEvents: %w", err)
	}

	prevSet := make(map[string]bool, len(event.PrevEventIDs()))
	for _, id := range event.PrevEventIDs() {
		prevSet[id] = true
	}
	newLatest := make([]string, 0, len(oldLatest)+1)
	for _, id := range oldLatest {
		if !prevSet[id] {
			newLatest = append(newLatest, id)
		}
	}
	newLatest = append(newLatest, event.EventID())

	if err = r.DB.SetLatestEvents(ctx, roomID, newLatest, oldDepth+1); err != nil {
		return fmt.Errorf("r.DB.SetLatestEvents: %w", err)
	}

	out := api.OutputNewRoomEvent{
		Event:           event,
		LatestEventIDs:  newLatest,
		LastSentEventID: event.EventID(),
		SendAsServer:    sendAsServer,
	}
	if sk := event.StateKey(); sk != nil {
		out.AddsStateEventIDs = []string{event.EventID()}
	}

	return r.WriteOutputEvents(roomID, []api.OutputEvent{{
		Type:         api.OutputTypeNewRoomEvent,
		NewRoomEvent: &out,
	}})
}
