// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package view models the screen flow of the monitor as an explicit state
// machine: Splash, Landing, Selector, Dashboard.
package view

import (
	"errors"
	"fmt"
	"sync"

	"github.com/soothill/tachometer-monitor/pkg/logger"
)

// View is one screen of the monitor.
type View int

const (
	// Splash is the initial screen.
	Splash View = iota
	// Landing introduces the product.
	Landing
	// Selector lists devices to monitor.
	Selector
	// Dashboard shows one device.
	Dashboard
)

func (v View) String() string {
	switch v {
	case Splash:
		return "splash"
	case Landing:
		return "landing"
	case Selector:
		return "selector"
	case Dashboard:
		return "dashboard"
	default:
		return "unknown"
	}
}

// MarshalText encodes the view by name.
func (v View) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes a view name.
func (v *View) UnmarshalText(text []byte) error {
	for _, candidate := range []View{Splash, Landing, Selector, Dashboard} {
		if candidate.String() == string(text) {
			*v = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown view %q", text)
}

// Action triggers a transition.
type Action string

const (
	Enter        Action = "enter"
	GetStarted   Action = "start"
	Back         Action = "back"
	Open         Action = "open"
	ChangeDevice Action = "change"
)

// ErrInvalidTransition is returned for an action not allowed from the
// current view.
var ErrInvalidTransition = errors.New("invalid view transition")

var transitions = map[View]map[Action]View{
	Splash:    {Enter: Landing},
	Landing:   {GetStarted: Selector},
	Selector:  {Back: Landing, Open: Dashboard},
	Dashboard: {ChangeDevice: Selector},
}

// Next returns the view reached by applying a to from.
func Next(from View, a Action) (View, error) {
	to, ok := transitions[from][a]
	if !ok {
		return from, fmt.Errorf("%w: %q from %s", ErrInvalidTransition, a, from)
	}
	return to, nil
}

// Navigator holds the current view.
type Navigator struct {
	mu      sync.Mutex
	current View
}

// NewNavigator starts at Splash.
func NewNavigator() *Navigator {
	return &Navigator{current: Splash}
}

// Current returns the current view.
func (n *Navigator) Current() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Apply performs a transition and returns the new view. On error the view is
// unchanged.
func (n *Navigator) Apply(a Action) (View, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	to, err := Next(n.current, a)
	if err != nil {
		return n.current, err
	}

	logger.Debug().Str("from", n.current.String()).Str("to", to.String()).Str("action", string(a)).Msg("View changed")
	n.current = to
	return to, nil
}
