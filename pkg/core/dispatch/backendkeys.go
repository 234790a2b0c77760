// Copyright 2024-2026 The GoTensor Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"github.com/gotensor/gotensor/pkg/core/device"
)

// KeyForTag maps a device tag to its backend-component dispatch key. The two
// enums are declared in the same order, so this is a cast plus a sanity
// check.
func KeyForTag(tag device.Tag) Key {
	key := Key(tag)
	if !key.IsBackendKey() {
		panic("dispatch.KeyForTag: tag " + tag.String() + " has no backend key")
	}
	return key
}

// TagForKey maps a backend-component key back to its device tag. It panics
// on functionality keys.
func TagForKey(key Key) device.Tag {
	if !key.IsBackendKey() {
		panic("dispatch.TagForKey: " + key.String() + " is not a backend key")
	}
	return device.Tag(key)
}
