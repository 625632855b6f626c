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

// Package eduserver is the EDU bus: it implements
// federationapi/routing.EDUWriter, dispatching each inbound federation EDU
// by type to the matching per-signal tracker (typing, receipts, presence,
// devicelist, todevice), the way SPEC_FULL.md §4.11 describes. Grounded on
// federationapi/routing/send.go's EDUWriter seam — this is the concrete
// implementation NopEDUWriter stands in for until wired — and on
// federationapi/consumers' onMessage type-switch shape for the dispatch
// itself.
package eduserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/EdGeraghty/FERRETCANNON-sub006/eduserver/devicelist"
	"github.com/EdGeraghty/FERRETCANNON-sub006/eduserver/presence"
	"github.com/EdGeraghty/FERRETCANNON-sub006/eduserver/receipts"
	"github.com/EdGeraghty/FERRETCANNON-sub006/eduserver/todevice"
	"github.com/EdGeraghty/FERRETCANNON-sub006/eduserver/typing"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// EDU type strings, per the Matrix server-server API (normative wire
// content, not teacher idiom — no pack example defines these).
const (
	eduTypeTyping            = "m.typing"
	eduTypeReceipt           = "m.receipt"
	eduTypePresence          = "m.presence"
	eduTypeDeviceListUpdate  = "m.device_list_update"
	eduTypeDirectToDevice    = "m.direct_to_device"
)

// Bus owns every per-signal tracker and is the process-wide EDU
// destination: federationapi/routing hands inbound EDUs to it, and a future
// client-facing typing/receipt/presence endpoint would call its trackers
// directly the same way clientapi/producers calls into the roomserver.
type Bus struct {
	Typing     *typing.Tracker
	Receipts   *receipts.Tracker
	Presence   *presence.Tracker
	DeviceList *devicelist.Tracker
	ToDevice   *todevice.Store
}

// New constructs a Bus with every tracker initialized.
func New() *Bus {
	return &Bus{
		Typing:     typing.New(),
		Receipts:   receipts.New(),
		Presence:   presence.New(),
		DeviceList: devicelist.New(),
		ToDevice:   todevice.New(),
	}
}

// InputEDU implements federationapi/routing.EDUWriter.
func (b *Bus) InputEDU(ctx context.Context, origin gomatrixserverlib.ServerName, edu gomatrixserverlib.EDU) error {
	switch edu.Type {
	case eduTypeTyping:
		return b.inputTyping(edu.Content)
	case eduTypeReceipt:
		return b.inputReceipt(edu.Content)
	case eduTypePresence:
		return b.inputPresence(edu.Content)
	case eduTypeDeviceListUpdate:
		return b.inputDeviceListUpdate(origin, edu.Content)
	case eduTypeDirectToDevice:
		return b.inputDirectToDevice(edu.Content)
	default:
		logrus.WithFields(logrus.Fields{
			"origin": origin,
			"type":   edu.Type,
		}).Debug("eduserver: ignoring unrecognised EDU type")
		return nil
	}
}

func (b *Bus) inputTyping(content json.RawMessage) error {
	var body struct {
		RoomID  string `json:"room_id"`
		UserID  string `json:"user_id"`
		Typing  bool   `json:"typing"`
		Timeout int64  `json:"timeout,omitempty"`
	}
	if err := json.Unmarshal(content, &body); err != nil {
		return err
	}
	timeout := time.Duration(body.Timeout) * time.Millisecond
	b.Typing.SetTyping(body.RoomID, body.UserID, body.Typing, timeout, time.Now())
	return nil
}

func (b *Bus) inputReceipt(content json.RawMessage) error {
	var byRoom map[string]struct {
		Read map[string]struct {
			EventIDs []string `json:"event_ids"`
			Data     struct {
				TS int64 `json:"ts"`
			} `json:"data"`
		} `json:"m.read"`
	}
	if err := json.Unmarshal(content, &byRoom); err != nil {
		return err
	}
	for roomID, room := range byRoom {
		for userID, receipt := range room.Read {
			if len(receipt.EventIDs) == 0 {
				continue
			}
			b.Receipts.SetReceipt(roomID, userID, receipt.EventIDs[len(receipt.EventIDs)-1], receipt.Data.TS)
		}
	}
	return nil
}

func (b *Bus) inputPresence(content json.RawMessage) error {
	var body struct {
		Push []struct {
			UserID          string `json:"user_id"`
			Presence        string `json:"presence"`
			StatusMsg       string `json:"status_msg,omitempty"`
			LastActiveAgo   int64  `json:"last_active_ago,omitempty"`
		} `json:"push"`
	}
	if err := json.Unmarshal(content, &body); err != nil {
		return err
	}
	now := time.Now()
	for _, p := range body.Push {
		lastActive := now.Add(-time.Duration(p.LastActiveAgo) * time.Millisecond)
		b.Presence.SetPresence(p.UserID, p.Presence, p.StatusMsg, lastActive, now)
	}
	return nil
}

func (b *Bus) inputDeviceListUpdate(origin gomatrixserverlib.ServerName, content json.RawMessage) error {
	var body struct {
		UserID   string `json:"user_id"`
		StreamID int64  `json:"stream_id"`
	}
	if err := json.Unmarshal(content, &body); err != nil {
		return err
	}
	if gap := b.DeviceList.Apply(string(origin), body.UserID, body.StreamID, content); gap {
		logrus.WithFields(logrus.Fields{
			"origin":  origin,
			"user_id": body.UserID,
		}).Debug("eduserver: device-list stream gap detected, downstream key query recommended")
	}
	return nil
}

func (b *Bus) inputDirectToDevice(content json.RawMessage) error {
	var body struct {
		Sender    string                     `json:"sender"`
		Type      string                     `json:"type"`
		MessageID string                     `json:"message_id"`
		Messages  map[string]map[string]json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(content, &body); err != nil {
		return err
	}
	for userID, byDevice := range body.Messages {
		for _, raw := range byDevice {
			b.ToDevice.Enqueue(userID, body.Sender, body.MessageID, todevice.Message{
				Sender:  body.Sender,
				Type:    body.Type,
				Content: raw,
			})
		}
	}
	return nil
}
