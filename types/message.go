// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

// Message is the opaque transport message exchanged with devices. The wire
// codec produces and consumes it; the gateway only inspects the header fields
// and application properties listed here.
type Message struct {
	ID            string
	Address       string
	ReplyTo       string
	Subject       string
	CorrelationID interface{}
	ContentType   string
	Payload       []byte
	Properties    map[string]interface{}
}

// CorrelationIDString returns the message's correlation ID if it is
// string-typed. Correlation IDs of any other type are treated as absent.
func (m *Message) CorrelationIDString() string {
	if id, ok := m.CorrelationID.(string); ok {
		return id
	}
	return ""
}

// PayloadConsistent reports whether the payload matches the declared content
// type: a message declaring the empty-notification content type must not carry
// a payload.
func (m *Message) PayloadConsistent() bool {
	if m.ContentType == ContentTypeEmptyNotification {
		return len(m.Payload) == 0
	}
	return true
}

// IntProperty returns the named application property if it holds an integer
// value of any width.
func (m *Message) IntProperty(name string) (int, bool) {
	switch v := m.Properties[name].(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
