// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package device

// The device-enumeration pool caches the physical devices discovered through
// each registered guard. Discovery can be expensive for real accelerators, so
// it runs exactly once per registry, on first touch, guarded by a sync.Once:
// late threads block until the first thread's enumeration completes and never
// block again. Backends registered after the first enumeration are not
// picked up; register during package load.

type devicePool struct {
	devices []Device
	counts  [NumTags]int
}

func (r *Registry) initPool() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for tag := CPU; int(tag) < NumTags; tag++ {
		d := r.descriptors[tag]
		if d == nil {
			continue
		}
		count := d.Guard.DeviceCount()
		r.pool.counts[tag] = count
		for index := range count {
			r.pool.devices = append(r.pool.devices, Device{Tag: tag, Index: index})
		}
	}
}

// Devices enumerates all physical devices across registered backends.
// The first call performs the discovery; the result is cached for the
// registry's lifetime. The returned slice must not be mutated.
func (r *Registry) Devices() []Device {
	r.poolOnce.Do(r.initPool)
	return r.pool.devices
}

// DeviceCount returns the number of physical devices of the given family,
// using the same cached enumeration as Devices.
func (r *Registry) DeviceCount(tag Tag) int {
	r.poolOnce.Do(r.initPool)
	if !tag.IsATag() {
		return 0
	}
	return r.pool.counts[tag]
}
