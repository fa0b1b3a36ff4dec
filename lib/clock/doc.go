// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets the bus and daemon take time as a dependency.
//
// Code that needs the current time or a timeout holds a [Clock] instead
// of calling the time package. Production wiring passes [Real]; tests
// pass a [FakeClock] from [Fake], which only moves when the test calls
// Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	device := bus.NewDevice(bus.DeviceConfig{Clock: fake})
//	go func() { ready, err = sock.Wait(ctx, bus.Readable, time.Second) }()
//	fake.WaitForTimers(1)      // the wait has armed its timer
//	fake.Advance(time.Second)  // and now it times out
//
// WaitForTimers closes the race between a goroutine arming a timer and
// the test advancing past it.
package clock
