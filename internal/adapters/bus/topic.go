// Package bus holds the topic-bus backends: an in-process broker and adapters
// for NATS and Redis. All of them speak MQTT-style topics.
package bus

import (
	"errors"
	"strings"
)

var (
	ErrEmptyTopic     = errors.New("empty topic")
	ErrInvalidTopic   = errors.New("wildcards are not allowed in a publish topic")
	ErrInvalidPattern = errors.New("invalid subscription pattern")
)

// ValidateTopic checks a concrete publish topic.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopic
	}
	return nil
}

// ValidatePattern checks a subscription pattern: "+" must fill a whole level
// and "#" may only appear as the last level.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrEmptyTopic
	}
	levels := strings.Split(pattern, "/")
	for i, l := range levels {
		switch {
		case l == "#":
			if i != len(levels)-1 {
				return ErrInvalidPattern
			}
		case l == "+":
		case strings.ContainsAny(l, "+#"):
			return ErrInvalidPattern
		}
	}
	return nil
}
