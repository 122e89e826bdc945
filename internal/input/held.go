// Package input tracks the virtual buttons the speech engine is holding down
// and defines the host input device they are applied to.
package input

import (
	"sort"
	"sync"
)

// Device is the host's input surface.
type Device interface {
	SetDown(button string)
	SetUp(button string)
	Press(button string)
	Click(button string, x, y int)
	MousePosition() (x, y int)
	SetMousePosition(x, y int)
}

// Held is the set of buttons kept down until explicitly released. The host
// re-asserts every held button each tick, otherwise the game would see them
// released on the next frame.
type Held struct {
	mu      sync.Mutex
	buttons map[string]struct{}
}

// NewHeld returns an empty set.
func NewHeld() *Held {
	return &Held{buttons: make(map[string]struct{})}
}

// Update applies an UPDATE_HELD_BUTTONS request: releases first, then holds.
func (h *Held) Update(toHold, toRelease []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range toRelease {
		delete(h.buttons, b)
	}
	for _, b := range toHold {
		h.buttons[b] = struct{}{}
	}
}

// ReleaseAll clears the set and returns what was held.
func (h *Held) ReleaseAll() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := sortedKeys(h.buttons)
	h.buttons = make(map[string]struct{})
	return out
}

// Buttons returns the held buttons in sorted order.
func (h *Held) Buttons() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedKeys(h.buttons)
}

// Contains reports whether button is held.
func (h *Held) Contains(button string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.buttons[button]
	return ok
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
