package commcell

import "encoding/json"

// Agent identifies an agent (application) type on a client. The numeric
// value is the application ID the server uses in entity references.
type Agent int

// Application IDs of the agents this SDK exposes operations for.
const (
	AgentFileSystem    Agent = 33
	AgentVirtualServer Agent = 106
)

// String returns the display name of the agent.
func (a Agent) String() string {
	switch a {
	case AgentFileSystem:
		return "file system"
	case AgentVirtualServer:
		return "virtual server"
	default:
		return "unknown"
	}
}

// atoiSafe parses a server-assigned numeric ID, returning 0 for anything
// unparsable.
func atoiSafe(s string) (int, error) {
	var n int
	err := json.Unmarshal([]byte(s), &n)
	return n, err
}

// flexInt64 decodes JSON numbers that the server sometimes serializes as
// strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	if len(data) > 1 && data[0] == '"' {
		data = data[1 : len(data)-1]
	}
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

// remarshal converts an already-decoded JSON document into a typed struct.
// Wrappers keep the raw document for Properties() and decode the fields
// they understand through this helper.
func remarshal(raw, target interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
