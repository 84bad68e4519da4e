package mqtt

import "fmt"

// Topic prefixes for the control point's MQTT surface.
//
// Attribute topics use the scheme: sdpcore/attribute/{entity}/{attribute}
// where entity is "master" or a subarray id. Attribute messages are
// retained so a new subscriber immediately sees the current value.
const (
	// TopicPrefix is the base for all control point topics.
	TopicPrefix = "sdpcore"

	// TopicPrefixAttribute is the base for attribute value topics.
	TopicPrefixAttribute = "sdpcore/attribute"

	// TopicPrefixEvent is the base for command lifecycle events.
	TopicPrefixEvent = "sdpcore/event"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "sdpcore/system"
)

// Topics provides builders for control point MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	obsTopic := topics.ObsState("subarray-01")
//	// Returns: "sdpcore/attribute/subarray-01/obs_state"
type Topics struct{}

// Attribute returns the topic for one entity attribute.
//
// Example: sdpcore/attribute/subarray-01/scan_id
func (Topics) Attribute(entity, attribute string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixAttribute, entity, attribute)
}

// PowerState returns the power state attribute topic for an entity.
//
// Example: sdpcore/attribute/master/power_state
func (t Topics) PowerState(entity string) string {
	return t.Attribute(entity, "power_state")
}

// ObsState returns the observing state attribute topic for an entity.
//
// Example: sdpcore/attribute/subarray-01/obs_state
func (t Topics) ObsState(entity string) string {
	return t.Attribute(entity, "obs_state")
}

// CommandEvent returns the topic for command lifecycle events on an entity.
//
// Example: sdpcore/event/subarray-01/command
func (Topics) CommandEvent(entity string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixEvent, entity)
}

// SystemStatus returns the system status topic. The control point publishes
// its online/offline status here, including via Last Will and Testament.
//
// Example: sdpcore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllAttributes returns a pattern matching every entity attribute.
//
// Pattern: sdpcore/attribute/+/+
func (Topics) AllAttributes() string {
	return fmt.Sprintf("%s/+/+", TopicPrefixAttribute)
}

// AllEvents returns a pattern matching all command events.
//
// Pattern: sdpcore/event/+/command
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/+/command", TopicPrefixEvent)
}
