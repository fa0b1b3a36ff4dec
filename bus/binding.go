// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"cmp"
	"slices"
)

// Binding subscribes a socket to a name, as a listener or as the
// name's replier.
type Binding struct {
	Name    string
	Socket  SocketID
	Replier bool
}

// BindingTable maps binding names to listeners and repliers.
//
// A BindingTable does no locking of its own; the Device serializes
// access under its lock. Names are assumed valid: the socket layer
// checks them before calling in.
type BindingTable struct {
	// listeners holds one entry per listener binding, duplicates
	// included, in bind order.
	listeners map[string][]SocketID
	repliers  map[string]SocketID
}

// NewBindingTable returns an empty table.
func NewBindingTable() *BindingTable {
	return &BindingTable{
		listeners: make(map[string][]SocketID),
		repliers:  make(map[string]SocketID),
	}
}

// Bind adds a binding. It reports whether the table changed: binding a
// socket as replier for a name it already answers is a successful
// no-op. A replier binding held by a different socket fails with
// ErrReplierAlreadyBound.
func (t *BindingTable) Bind(name string, socket SocketID, replier bool) (bool, error) {
	if !replier {
		t.listeners[name] = append(t.listeners[name], socket)
		return true, nil
	}
	if holder, ok := t.repliers[name]; ok {
		if holder == socket {
			return false, nil
		}
		return false, errorf(CodeReplierAlreadyBound, "%q is answered by socket %d", name, holder)
	}
	t.repliers[name] = socket
	return true, nil
}

// Unbind removes one binding matching (name, socket, replier) exactly,
// or fails with ErrBindingNotFound.
func (t *BindingTable) Unbind(name string, socket SocketID, replier bool) error {
	if replier {
		if holder, ok := t.repliers[name]; !ok || holder != socket {
			return errorf(CodeBindingNotFound, "socket %d is not replier for %q", socket, name)
		}
		delete(t.repliers, name)
		return nil
	}

	sockets := t.listeners[name]
	index := slices.Index(sockets, socket)
	if index < 0 {
		return errorf(CodeBindingNotFound, "socket %d is not listening to %q", socket, name)
	}
	sockets = slices.Delete(sockets, index, index+1)
	if len(sockets) == 0 {
		delete(t.listeners, name)
	} else {
		t.listeners[name] = sockets
	}
	return nil
}

// FindReplier returns the socket that answers requests sent to name
// and the binding it holds. An exact binding beats a "%" binding, which
// beats "*" bindings; among "*" bindings the longest prefix wins.
func (t *BindingTable) FindReplier(name string) (Binding, bool) {
	for _, candidate := range candidateBindings(name) {
		if socket, ok := t.repliers[candidate]; ok {
			return Binding{Name: candidate, Socket: socket, Replier: true}, true
		}
	}
	return Binding{}, false
}

// FindListeners returns one entry per listener binding matching name,
// so a socket bound twice appears twice.
func (t *BindingTable) FindListeners(name string) []SocketID {
	var sockets []SocketID
	for _, candidate := range candidateBindings(name) {
		sockets = append(sockets, t.listeners[candidate]...)
	}
	return sockets
}

// RemoveSocket deletes every binding held by socket and returns them,
// replier bindings first, each group sorted by name.
func (t *BindingTable) RemoveSocket(socket SocketID) []Binding {
	var removed []Binding
	for name, holder := range t.repliers {
		if holder == socket {
			removed = append(removed, Binding{Name: name, Socket: socket, Replier: true})
			delete(t.repliers, name)
		}
	}
	for name, sockets := range t.listeners {
		kept := sockets[:0]
		for _, listener := range sockets {
			if listener == socket {
				removed = append(removed, Binding{Name: name, Socket: socket})
			} else {
				kept = append(kept, listener)
			}
		}
		if len(kept) == 0 {
			delete(t.listeners, name)
		} else {
			t.listeners[name] = kept
		}
	}
	sortBindings(removed)
	return removed
}

func sortBindings(bindings []Binding) {
	slices.SortStableFunc(bindings, func(a, b Binding) int {
		if a.Replier != b.Replier {
			if a.Replier {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})
}
