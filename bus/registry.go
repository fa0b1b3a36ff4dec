// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"slices"
	"sync"

	"go.uber.org/multierr"
)

// Registry holds numbered devices. It replaces the process-wide device
// list of a kernel module with an explicit value, so several registries
// can coexist in one process.
type Registry struct {
	template DeviceConfig

	mu      sync.Mutex
	devices map[uint32]*Device
	closed  bool
}

// NewRegistry returns an empty registry. Devices it creates take their
// settings from template.
func NewRegistry(template DeviceConfig) *Registry {
	return &Registry{
		template: template.withDefaults(),
		devices:  make(map[uint32]*Device),
	}
}

// NewDevice creates device number, failing with ErrDeviceExists if it
// is already present.
func (r *Registry) NewDevice(number uint32) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errorf(CodeNoSuchDevice, "registry is closed")
	}
	if _, ok := r.devices[number]; ok {
		return nil, errorf(CodeDeviceExists, "device %d", number)
	}
	return r.createLocked(number), nil
}

// NextDeviceNumber returns the lowest number not in use.
func (r *Registry) NextDeviceNumber() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var number uint32
	for {
		if _, ok := r.devices[number]; !ok {
			return number
		}
		number++
	}
}

// Device returns device number or fails with ErrNoSuchDevice.
func (r *Registry) Device(number uint32) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[number]
	if !ok {
		return nil, errorf(CodeNoSuchDevice, "device %d", number)
	}
	return device, nil
}

// Devices returns the numbers of all devices in ascending order.
func (r *Registry) Devices() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	numbers := make([]uint32, 0, len(r.devices))
	for number := range r.devices {
		numbers = append(numbers, number)
	}
	slices.Sort(numbers)
	return numbers
}

// OpenSocket opens a socket on device number, creating the device on
// first use.
func (r *Registry) OpenSocket(number uint32, mode Mode) (*Socket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errorf(CodeNoSuchDevice, "registry is closed")
	}
	if !mode.valid() {
		return nil, errorf(CodeNotPermitted, "invalid open mode %d", mode)
	}
	device, ok := r.devices[number]
	if !ok {
		device = r.createLocked(number)
	}
	return device.Open(mode)
}

// DestroyDevice removes device number. It fails with ErrDeviceBusy
// while any socket is open on it.
func (r *Registry) DestroyDevice(number uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[number]
	if !ok {
		return errorf(CodeNoSuchDevice, "device %d", number)
	}

	device.mu.Lock()
	defer device.mu.Unlock()
	if open := len(device.sockets); open > 0 {
		return errorf(CodeDeviceBusy, "device %d has %d open sockets", number, open)
	}
	device.destroyed = true
	delete(r.devices, number)
	device.logger.Info("device destroyed")
	return nil
}

// Close closes every socket on every device and empties the registry.
// Later calls to NewDevice and OpenSocket fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[uint32]*Device)
	r.closed = true
	r.mu.Unlock()

	var err error
	for _, device := range devices {
		err = multierr.Append(err, device.shutdown())
	}
	return err
}

func (r *Registry) createLocked(number uint32) *Device {
	config := r.template
	config.Number = number
	device := NewDevice(config)
	r.devices[number] = device
	device.logger.Info("device created",
		"max_messages", device.maxMessages,
		"max_data_length", device.maxDataLength,
		"max_name_length", device.maxNameLength,
	)
	return device
}
