package mqtt

import "github.com/nugget/homelab-assistant/internal/buildinfo"

// Availability payloads. The broker publishes availabilityOffline as the
// last will if the orchestrator drops without a clean disconnect.
const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Device places every announced entity under one Home Assistant device.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

func newDevice(instanceID, name string) Device {
	return Device{
		Identifiers:  []string{instanceID},
		Name:         name,
		Manufacturer: "Homelab Assistant",
		Model:        "Orchestrator",
		SWVersion:    buildinfo.Version,
	}
}

// Entity is a Home Assistant MQTT discovery payload, limited to the keys
// the orchestrator announces. Name is shown relative to the device.
type Entity struct {
	Name              string `json:"name"`
	ObjectID          string `json:"object_id"`
	UniqueID          string `json:"unique_id"`
	HasEntityName     bool   `json:"has_entity_name"`
	StateTopic        string `json:"state_topic"`
	ValueTemplate     string `json:"value_template,omitempty"`
	AttributesTopic   string `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic string `json:"availability_topic,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	PayloadOn         string `json:"payload_on,omitempty"`
	PayloadOff        string `json:"payload_off,omitempty"`
	Unit              string `json:"unit_of_measurement,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	EntityCategory    string `json:"entity_category,omitempty"`
	Icon              string `json:"icon,omitempty"`
	Device            Device `json:"device"`
}

// announcement is one retained discovery message.
type announcement struct {
	Topic  string
	Entity Entity
}

// announcements lists the entities derived from the retained audit
// record and the availability topic. No separate state topics exist.
func (p *Publisher) announcements() []announcement {
	entity := func(component, key, name string) announcement {
		return announcement{
			Topic: p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + key + "/config",
			Entity: Entity{
				Name:          name,
				ObjectID:      key,
				UniqueID:      p.instanceID + "_" + key,
				HasEntityName: true,
				Device:        p.device,
			},
		}
	}

	conn := entity("binary_sensor", "connectivity", "Connectivity")
	conn.Entity.StateTopic = p.availabilityTopic()
	conn.Entity.DeviceClass = "connectivity"
	conn.Entity.PayloadOn = availabilityOnline
	conn.Entity.PayloadOff = availabilityOffline
	conn.Entity.EntityCategory = "diagnostic"

	last := entity("sensor", "last_conversation", "Last Conversation")
	last.Entity.StateTopic = p.auditTopic()
	last.Entity.ValueTemplate = "{{ value_json.timestamp }}"
	last.Entity.AttributesTopic = p.auditTopic()
	last.Entity.AvailabilityTopic = p.availabilityTopic()
	last.Entity.DeviceClass = "timestamp"
	last.Entity.Icon = "mdi:chat-processing"

	calls := entity("sensor", "last_tool_calls", "Last Tool Calls")
	calls.Entity.StateTopic = p.auditTopic()
	calls.Entity.ValueTemplate = "{{ value_json.tool_calls | length }}"
	calls.Entity.AvailabilityTopic = p.availabilityTopic()
	calls.Entity.Unit = "calls"
	calls.Entity.StateClass = "measurement"
	calls.Entity.Icon = "mdi:tools"

	return []announcement{conn, last, calls}
}
