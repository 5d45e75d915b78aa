package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout for the screenfilter namespace. Rendering targets announce
// themselves under screenfilter/target/..., the agent pushes filter commands
// under screenfilter/command/... and answers requests on per-requester reply
// topics.
const (
	// Target lifecycle (input)
	TopicTargetHello = "screenfilter/target/hello/+"
	TopicTargetBye   = "screenfilter/target/bye/+"

	// Request/reply (input)
	TopicStatusRequests   = "screenfilter/request/status/+"
	TopicSettingsRequests = "screenfilter/request/settings/+"

	// External geolocation collaborator (input)
	TopicLocationContext = "screenfilter/context/location"

	// Retained current-state broadcast (output)
	TopicStateContext = "screenfilter/context/state"
)

// FilterCommandTopic constructs the per-target command topic.
// Pattern: screenfilter/command/filter/{target}
func FilterCommandTopic(target string) string {
	return fmt.Sprintf("screenfilter/command/filter/%s", target)
}

// StatusReplyTopic constructs the per-requester status reply topic.
// Pattern: screenfilter/status/{requester}
func StatusReplyTopic(requester string) string {
	return fmt.Sprintf("screenfilter/status/%s", requester)
}

// SettingsAckTopic constructs the per-requester settings ack topic.
// Pattern: screenfilter/ack/{requester}
func SettingsAckTopic(requester string) string {
	return fmt.Sprintf("screenfilter/ack/%s", requester)
}

// LastSegment extracts the trailing identifier from a topic, e.g. the target
// id from screenfilter/target/hello/{target}. Returns an error when the topic
// has no identifier segment.
func LastSegment(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[len(parts)-1] == "" {
		return "", fmt.Errorf("topic %s has no identifier segment", topic)
	}
	return parts[len(parts)-1], nil
}
