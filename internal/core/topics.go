package core

import (
	"fmt"
	"strings"

	"github.com/dkeye/commonroom/internal/domain"
)

// Topic names shared by sessions and the rendezvous broker.
const (
	TopicBroadcast = "messages/broadcast"
	TopicAdmin     = "messages/admin"

	TopicVideoEnterAll       = "jitsi-rooms/+/enter"
	TopicVideoLeaveAll       = "jitsi-rooms/+/leave"
	TopicVideoRequestListAll = "jitsi-rooms/+/request-user-list"
)

func RoomTopics(room domain.RoomName) string { return fmt.Sprintf("room/%s/+", room) }
func RoomLocationTopic(room domain.RoomName) string {
	return fmt.Sprintf("room/%s/set-avatar-location", room)
}
func RoomLeaveTopic(room domain.RoomName) string { return fmt.Sprintf("room/%s/leave", room) }

func VideoEnterTopic(id domain.VideoSessionID) string { return fmt.Sprintf("jitsi-rooms/%s/enter", id) }
func VideoLeaveTopic(id domain.VideoSessionID) string { return fmt.Sprintf("jitsi-rooms/%s/leave", id) }
func VideoRequestListTopic(id domain.VideoSessionID) string {
	return fmt.Sprintf("jitsi-rooms/%s/request-user-list", id)
}
func VideoUserListTopic(id domain.VideoSessionID) string {
	return fmt.Sprintf("jitsi-rooms/%s/user-list", id)
}

func UserTopics(id domain.UserID) string            { return fmt.Sprintf("user/%s/+", id) }
func UserEnterVideoTopic(id domain.UserID) string   { return fmt.Sprintf("user/%s/enter-jitsi-room", id) }
func UserLeaveVideoTopic(id domain.UserID) string   { return fmt.Sprintf("user/%s/leave_jitsi_room", id) }
func UserMessageTopic(id domain.UserID) string      { return fmt.Sprintf("user/%s/message", id) }
func UserVideoRequestTopic(id domain.UserID) string { return fmt.Sprintf("user/%s/request-video-chat", id) }
func UserReconnectTopic(id domain.UserID) string    { return fmt.Sprintf("user/%s/reconnect", id) }

// TopicLevel returns the i-th "/"-separated level of topic, or "" when absent.
func TopicLevel(topic string, i int) string {
	parts := strings.Split(topic, "/")
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}

// MatchTopic reports whether topic matches an MQTT-style pattern.
// "+" matches exactly one level, a trailing "#" matches the rest including none.
func MatchTopic(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	for i, level := range p {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}
