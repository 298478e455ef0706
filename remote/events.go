package remote

import "encoding/json"

// EventSubscription is the bitmask of notification categories delivered
// by the remote. High-volume categories are never part of SubAllLow and
// must be requested explicitly.
type EventSubscription uint32

const (
	SubNone        EventSubscription = 0
	SubGeneral     EventSubscription = 1 << 0
	SubConfig      EventSubscription = 1 << 1
	SubScenes      EventSubscription = 1 << 2
	SubInputs      EventSubscription = 1 << 3
	SubTransitions EventSubscription = 1 << 4
	SubFilters     EventSubscription = 1 << 5
	SubOutputs     EventSubscription = 1 << 6
	SubSceneItems  EventSubscription = 1 << 7
	SubMediaInputs EventSubscription = 1 << 8
	SubVendors     EventSubscription = 1 << 9
	SubUI          EventSubscription = 1 << 10

	SubInputVolumeMeters         EventSubscription = 1 << 16
	SubInputActiveStateChanged   EventSubscription = 1 << 17
	SubInputShowStateChanged     EventSubscription = 1 << 18
	SubSceneItemTransformChanged EventSubscription = 1 << 19

	SubAllLow = SubGeneral | SubConfig | SubScenes | SubInputs |
		SubTransitions | SubFilters | SubOutputs | SubSceneItems |
		SubMediaInputs | SubVendors | SubUI

	SubAll = SubAllLow | SubInputVolumeMeters | SubInputActiveStateChanged |
		SubInputShowStateChanged | SubSceneItemTransformChanged
)

// Event is a server-pushed notification. Data is opaque to the engine;
// consumers decode it according to Type.
type Event struct {
	Type   string
	Intent EventSubscription
	Data   json.RawMessage
}

// EventTypeGap is the synthetic event injected into a subscription whose
// backlog overflowed. Its data payload is a GapInfo.
const EventTypeGap = "SubscriptionGap"

// GapInfo reports how many events a slow subscriber lost.
type GapInfo struct {
	DroppedEvents uint64 `json:"droppedEvents"`
}
