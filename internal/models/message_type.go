// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import "fmt"

// MessageType selects the session scheme a ciphertext was produced with.
type MessageType int

const (
	MessageTypeNone   MessageType = 0
	MessageTypeCipher MessageType = 1
	MessageTypePreKey MessageType = 3
)

// ParseMessageType maps a wire value onto the closed set of known types.
func ParseMessageType(v int) (MessageType, error) {
	switch mt := MessageType(v); mt {
	case MessageTypeNone, MessageTypeCipher, MessageTypePreKey:
		return mt, nil
	default:
		return MessageTypeNone, fmt.Errorf("unknown message type %d", v)
	}
}

func (m MessageType) String() string {
	switch m {
	case MessageTypeNone:
		return "none"
	case MessageTypeCipher:
		return "cipher"
	case MessageTypePreKey:
		return "prekey"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Encrypted reports whether content of this type must be routed through a session.
func (m MessageType) Encrypted() bool { return m != MessageTypeNone }
