// Copyright 2026 The TangleTunes Authors
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

package distributor_mock

import (
	test_ledger "github.com/tangletunes/tunes/internal/test/ledger"
	"github.com/tangletunes/tunes/wire"
)

type EntryType int

const (
	EntryTypeNone   EntryType = 0
	EntryTypeInput  EntryType = 1
	EntryTypeOutput EntryType = 2
	EntryTypeClose  EntryType = 3
)

type ConversationEntry struct {
	Type EntryType
	// InputRequest is compared with the decoded request payload when set
	InputRequest *test_ledger.RequestPayload
	OutputFrames []*wire.Chunks
}

// ConversationEntryRequest is a pre-defined conversation entry that matches any request
var ConversationEntryRequest = ConversationEntry{
	Type: EntryTypeInput,
}

// ConversationEntryClose is a pre-defined conversation entry that closes the connection
var ConversationEntryClose = ConversationEntry{
	Type: EntryTypeClose,
}

// ConversationEntryChunks returns a conversation entry that sends a single chunks frame
func ConversationEntryChunks(startChunkId uint32, payload []byte) ConversationEntry {
	return ConversationEntry{
		Type: EntryTypeOutput,
		OutputFrames: []*wire.Chunks{
			wire.NewChunks(startChunkId, payload),
		},
	}
}
