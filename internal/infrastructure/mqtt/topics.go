package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every droidpanel topic.
const TopicPrefix = "droidpanel"

// Topics builds droidpanel MQTT topics.
//
// Unit topics carry the registry name ("logcat", "runs", "services") and
// the unit key:
//
//	topics := mqtt.Topics{}
//	topics.UnitEvent("logcat", "emulator-5554", "exit")
//	// Returns: "droidpanel/unit/logcat/emulator-5554/exit"
type Topics struct{}

// UnitEvent returns the topic for one event kind of a unit.
//
// Example: droidpanel/unit/runs/4f1c.../line
func (Topics) UnitEvent(registry, key, kind string) string {
	return fmt.Sprintf("%s/unit/%s/%s/%s", TopicPrefix, registry, key, kind)
}

// UnitState returns the retained state topic of a unit.
//
// Example: droidpanel/unit/services/ngrok/state
func (t Topics) UnitState(registry, key string) string {
	return t.UnitEvent(registry, key, "state")
}

// StopCommand returns the topic that asks a unit to stop.
//
// Example: droidpanel/command/logcat/emulator-5554/stop
func (Topics) StopCommand(registry, key string) string {
	return fmt.Sprintf("%s/command/%s/%s/stop", TopicPrefix, registry, key)
}

// AllStopCommands matches stop commands for any unit.
//
// Pattern: droidpanel/command/+/+/stop
func (Topics) AllStopCommands() string {
	return TopicPrefix + "/command/+/+/stop"
}

// AllUnitEvents matches every unit event.
//
// Pattern: droidpanel/unit/#
func (Topics) AllUnitEvents() string {
	return TopicPrefix + "/unit/#"
}

// SystemStatus returns the online/offline status topic.
//
// Example: droidpanel/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// ParseStopCommand extracts the registry and key from a stop topic.
func ParseStopCommand(topic string) (registry, key string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[1] != "command" || parts[4] != "stop" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
