package mqtt

import "strings"

// TopicPrefix is the base of the bridge's own topics.
const TopicPrefix = "lw2bacnet"

// Topics provides builders for the bridge's own MQTT topics. Network server
// topics are configured, not built.
type Topics struct{}

// Status returns the connection status topic.
//
// Example: lw2bacnet/status
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// Health returns the bridge health topic.
//
// Example: lw2bacnet/health
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// MatchTopic reports whether a topic matches a subscription pattern with
// MQTT wildcards (+ for one level, # for the remainder).
func MatchTopic(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	for i, seg := range p {
		if seg == "#" {
			return i == len(p)-1
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}

// ValidatePattern checks a subscription pattern: # only as the last level,
// wildcards only as whole levels.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(pattern, "/")
	for i, seg := range levels {
		switch {
		case seg == "#" && i != len(levels)-1:
			return ErrInvalidPattern
		case seg != "#" && seg != "+" && strings.ContainsAny(seg, "#+"):
			return ErrInvalidPattern
		}
	}
	return nil
}
