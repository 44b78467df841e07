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

// Label is a mailbox folder or tag. System labels have fixed ids; custom
// labels are looked up by name.
type Label struct {
	ID      int    `json:"id"`
	Text    string `json:"text"`
	Color   string `json:"color,omitempty"`
	Visible bool   `json:"visible"`
	System  bool   `json:"system"`
}

// System label ids.
const (
	LabelAll       = -1
	LabelInbox     = 1
	LabelSpam      = 2
	LabelSent      = 3
	LabelImportant = 4
	LabelStarred   = 5
	LabelDraft     = 6
	LabelTrash     = 7
)

// SystemLabels is the seed set every store starts with.
var SystemLabels = []Label{
	{ID: LabelInbox, Text: "Inbox", Color: "0091ff", Visible: true, System: true},
	{ID: LabelSpam, Text: "Spam", Color: "ff0000", Visible: true, System: true},
	{ID: LabelSent, Text: "Sent", Color: "1a9759", Visible: true, System: true},
	{ID: LabelImportant, Text: "Important", Color: "ff9000", Visible: false, System: true},
	{ID: LabelStarred, Text: "Starred", Color: "ffdf32", Visible: true, System: true},
	{ID: LabelDraft, Text: "Draft", Color: "666666", Visible: true, System: true},
	{ID: LabelTrash, Text: "Trash", Color: "b00e0e", Visible: true, System: true},
	{ID: LabelAll, Text: "All Mail", Color: "000000", Visible: true, System: true},
}
