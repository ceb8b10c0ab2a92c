package pubsub

import (
	"fmt"
	"strings"
)

// ChannelRoomLifecycle carries room lifecycle announcements, one channel per room.
const ChannelRoomLifecycle = "room:%s:lifecycle"

// Room lifecycle event types.
const (
	EventRoomCreated = "room_created"
	EventHostChanged = "host_changed"
	EventRoomClosed  = "room_closed"
)

// RoomLifecycleChannel returns the channel name for a room's lifecycle events.
func RoomLifecycleChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoomLifecycle, roomID)
}

// RoomCreatedPayload is published when a room comes into existence.
type RoomCreatedPayload struct {
	RoomID string `json:"room_id"`
	HostID string `json:"host_id"`
}

// HostChangedPayload is published when a follower is promoted to host.
type HostChangedPayload struct {
	RoomID     string `json:"room_id"`
	PreviousID string `json:"previous_id"`
	HostID     string `json:"host_id"`
	Members    int    `json:"members"`
}

// RoomClosedPayload is published when a room is removed from the registry.
type RoomClosedPayload struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"` // "empty" | "host-left"
}

// channelToTopicAndKey maps "room:{id}:{suffix}" to topic "room-{suffix}"
// and key "{id}", so that a room's events land on one partition in order.
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "room" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return "room-" + strings.ReplaceAll(parts[2], "_", "-"), parts[1], nil
}
