// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
)

// ErrUnknownEventType is returned when parsing a type outside the closed set.
var ErrUnknownEventType = errors.New("unknown event type")

// EventType names a kind of suspicious condition.
type EventType string

// The closed set of event types. Refocused is informational and never counted.
const (
	NoFace           EventType = "noFace"
	MultipleFace     EventType = "multipleFace"
	CellPhone        EventType = "cellPhone"
	ProhibitedObject EventType = "prohibitedObject"
	FocusLost        EventType = "focusLost"
	Drowsiness       EventType = "drowsiness"
	AudioAlert       EventType = "audioAlert"
	Refocused        EventType = "refocused"
)

// eventTypes maps each type to its counter field. A nil counter marks an
// informational type.
var eventTypes = map[EventType]func(*Counts) *int{
	NoFace:           func(c *Counts) *int { return &c.NoFace },
	MultipleFace:     func(c *Counts) *int { return &c.MultipleFace },
	CellPhone:        func(c *Counts) *int { return &c.CellPhone },
	ProhibitedObject: func(c *Counts) *int { return &c.ProhibitedObject },
	FocusLost:        func(c *Counts) *int { return &c.FocusLost },
	Drowsiness:       func(c *Counts) *int { return &c.Drowsiness },
	AudioAlert:       func(c *Counts) *int { return &c.AudioAlert },
	Refocused:        nil,
}

// orderedTypes lists the counted types in reporting order.
var orderedTypes = []EventType{
	NoFace, MultipleFace, CellPhone, ProhibitedObject, FocusLost, Drowsiness, AudioAlert,
}

// CountedTypes returns the event types that carry a counter, in reporting order.
func CountedTypes() []EventType {
	out := make([]EventType, len(orderedTypes))
	copy(out, orderedTypes)
	return out
}

// ParseEventType validates s against the closed set.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if _, ok := eventTypes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

// Valid reports whether t belongs to the closed set.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// Counted reports whether t increments a counter and costs integrity.
func (t EventType) Counted() bool {
	return eventTypes[t] != nil
}

func (t EventType) String() string { return string(t) }

// Counts holds one counter per counted event type.
type Counts struct {
	NoFace           int `json:"noFaceCount"`
	MultipleFace     int `json:"multipleFaceCount"`
	CellPhone        int `json:"cellPhoneCount"`
	ProhibitedObject int `json:"prohibitedObjectCount"`
	FocusLost        int `json:"focusLostCount"`
	Drowsiness       int `json:"drowsinessCount"`
	AudioAlert       int `json:"audioAlertCount"`
}

// Inc adds one to t's counter. It returns false for informational or unknown types.
func (c *Counts) Inc(t EventType) bool {
	field := eventTypes[t]
	if field == nil {
		return false
	}
	*field(c)++
	return true
}

// Get returns t's counter, zero for informational or unknown types.
func (c Counts) Get(t EventType) int {
	field := eventTypes[t]
	if field == nil {
		return 0
	}
	return *field(&c)
}

// Add folds o into c.
func (c *Counts) Add(o Counts) {
	for _, t := range orderedTypes {
		*eventTypes[t](c) += o.Get(t)
	}
}

// Total sums every counter.
func (c Counts) Total() int {
	total := 0
	for _, t := range orderedTypes {
		total += c.Get(t)
	}
	return total
}
