package mqtt

import "strings"

// Every bridge topic has the form laurel/{category}/mesh/{id}, where id is a
// device key or a request ID. Health and discovery drop the id segment.
const (
	Prefix   = "laurel"
	Protocol = "mesh"

	statusTopic = Prefix + "/system/status"
)

// Topic categories.
const (
	CategoryCommand   = "command"
	CategoryAck       = "ack"
	CategoryState     = "state"
	CategoryRequest   = "request"
	CategoryResponse  = "response"
	CategoryHealth    = "health"
	CategoryDiscovery = "discovery"
)

// Topics builds mesh bridge topics.
//
//	mqtt.Topics{}.State("a4c138000001") // laurel/state/mesh/a4c138000001
type Topics struct{}

// State is the retained state topic of one light.
func (Topics) State(deviceKey string) string { return meshTopic(CategoryState, deviceKey) }

// Command is where commands for one light arrive.
func (Topics) Command(deviceKey string) string { return meshTopic(CategoryCommand, deviceKey) }

// Ack carries the outcome of each command sent to one light.
func (Topics) Ack(deviceKey string) string { return meshTopic(CategoryAck, deviceKey) }

func (Topics) Request(requestID string) string  { return meshTopic(CategoryRequest, requestID) }
func (Topics) Response(requestID string) string { return meshTopic(CategoryResponse, requestID) }

func (Topics) Health() string    { return Prefix + "/" + CategoryHealth + "/" + Protocol }
func (Topics) Discovery() string { return Prefix + "/" + CategoryDiscovery + "/" + Protocol }

// SystemStatus is the retained online/offline topic, also used for the LWT.
func (Topics) SystemStatus() string { return statusTopic }

// Commands matches the command topic of every light.
func (Topics) Commands() string { return meshTopic(CategoryCommand, "+") }

// Requests matches every request topic.
func (Topics) Requests() string { return meshTopic(CategoryRequest, "+") }

func meshTopic(category, id string) string {
	return Prefix + "/" + category + "/" + Protocol + "/" + id
}

// ParseTopic splits laurel/{category}/mesh/{id}. ok is false for anything
// else, including other protocols and empty segments.
func ParseTopic(topic string) (category, id string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != Prefix || parts[2] != Protocol {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}
