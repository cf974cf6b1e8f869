package mqtt

import (
	"fmt"
	"strings"
)

// maxTopicLength is the MQTT limit on an encoded topic string.
const maxTopicLength = 65535

// ValidateTopic checks a topic name used for publishing.
// Publish topics must be non-empty and may not contain wildcards or NUL.
func ValidateTopic(topic string) error {
	if err := validateCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards are not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter.
//
// "+" must occupy a whole level and "#" must be the whole last level:
//
//	iot/+/state   ok
//	iot/#         ok
//	iot/dev#      rejected
//	iot/#/state   rejected
func ValidateFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return err
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

func validateCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}

// Matches reports whether topic is selected by filter.
// Both arguments are assumed valid.
func Matches(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			// "#" also matches the parent level itself.
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
