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

package ledger

import (
	"errors"
)

var (
	// ErrNoDistributor means nobody currently distributes the song
	ErrNoDistributor = errors.New("no distributor available for song")
	// ErrSongNotFound means the song is not registered in the ledger
	ErrSongNotFound = errors.New("song not found")
)
