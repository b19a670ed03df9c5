// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
// Copyright 2024 The Mitosis Authors. All Rights Reserved.
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

package log

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	goxrate "golang.org/x/time/rate"
)

func TestRateLimitWindow(t *testing.T) {
	ratelimit := RateLimit(Default(), Rate{Window: MinimumWindow, Limit: Every(time.Second)})
	rl := ratelimit.(*ratelimited)

	limiters := make(map[string]*goxrate.Limiter)

	// fill message window, store limiters for checking
	messages := make([]string, 0, MinimumWindow)
	for idx := 0; idx < cap(messages); idx++ {
		msg := fmt.Sprintf("message #%d", idx)
		messages = append(messages, msg)
		limiters[msg] = rl.getMessageLimit(msg)
	}
	for msg, limiter := range limiters {
		require.Same(t, limiter, rl.getMessageLimit(msg), "limiter for %s", msg)
	}

	// push a few more messages, shifting the oldest ones out of the window
	recent := MinimumWindow / 4
	for i := 0; i < recent; i++ {
		rl.getMessageLimit(fmt.Sprintf("message #%d", len(messages)+i))
	}
	for idx := 0; idx < recent; idx++ {
		require.NotSame(t, limiters[messages[idx]], rl.getMessageLimit(messages[idx]))
	}
}

func TestRateLimitSuppression(t *testing.T) {
	tl := setup(t)

	rl := RateLimit(NewLogger("ratelimit"), Interval(time.Hour))
	for i := 0; i < 10; i++ {
		rl.Info("repeated message")
	}
	rl.Info("another message")

	require.Equal(t, []string{
		"I: [ratelimit] <rate-limited> repeated message",
		"I: [ratelimit] <rate-limited> another message",
	}, tl.messages())
}
