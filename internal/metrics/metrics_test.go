// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrementAndRegister(t *testing.T) {
	m.init()
	before := testutil.ToFloat64(m.jobsClaimed)
	JobClaimed()
	after := testutil.ToFloat64(m.jobsClaimed)
	assert.Equal(t, before+1, after)
}

func TestObserveStepDurationDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		ObserveStepDuration("INGEST", 0.5)
	})
}
