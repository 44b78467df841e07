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

package attachment

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Descriptor is one entry of an event's files array.
type Descriptor struct {
	Token    string  `json:"token"`
	Size     *int64  `json:"size"`
	Name     string  `json:"name"`
	MimeType string  `json:"mimeType"`
	CID      string  `json:"cid"`
	Key      *string `json:"key"`
	IV       *string `json:"iv"`
	ReadOnly flag    `json:"read_only"`
}

// flag accepts 0/1 as well as false/true.
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "null", "0", "false":
		*f = false
		return nil
	case "1", "true":
		*f = true
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("read_only: expected 0/1 or boolean")
	}
	*f = n != 0
	return nil
}

// Decode parses and validates a single attachment descriptor.
func Decode(raw json.RawMessage) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	if d.Token == "" {
		return nil, fmt.Errorf("descriptor missing token")
	}
	if d.Name == "" {
		return nil, fmt.Errorf("descriptor %s missing name", d.Token)
	}
	if d.Size == nil || *d.Size < 0 {
		return nil, fmt.Errorf("descriptor %s missing or negative size", d.Token)
	}
	return &d, nil
}

// OwnKey returns the descriptor's own "key:iv" material, if it carries both.
func (d *Descriptor) OwnKey() (string, bool) {
	if d.Key == nil || d.IV == nil {
		return "", false
	}
	return *d.Key + ":" + *d.IV, true
}
