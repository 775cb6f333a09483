// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stimlink

import (
	"fmt"
	"sort"
)

// StateDef is a state learnt from the boot enumeration
type StateDef struct {
	Name      string
	Updatable bool
}

// ParamDef is a parameter learnt from the boot enumeration, with its latest value
type ParamDef struct {
	Name    string
	Default float64
	Value   float64
}

// Catalog collects the names a device announces at boot so runtime messages,
// which only carry IDs, can be shown by name.
type Catalog struct {
	Device  string
	States  map[int]StateDef
	Events  map[int]string
	Params  map[int]ParamDef
	Results map[int]string

	// Live view
	State      int
	HasState   bool
	LastResult int
	HasResult  bool
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.Reset()
	return c
}

// Reset forgets everything learnt
func (c *Catalog) Reset() {
	c.Device = ""
	c.States = map[int]StateDef{}
	c.Events = map[int]string{}
	c.Params = map[int]ParamDef{}
	c.Results = map[int]string{}
	c.State = 0
	c.HasState = false
	c.LastResult = 0
	c.HasResult = false
}

// Observe updates the catalog from one message. An online marker starts a
// fresh enumeration.
func (c *Catalog) Observe(m Message) {
	switch m.Kind {
	case KindOnline:
		c.Reset()
		c.Device = m.Text
	case KindStateDef:
		c.States[m.ID] = StateDef{Name: m.Text, Updatable: m.Flag}
	case KindEventDef:
		c.Events[m.ID] = m.Text
	case KindParamDef:
		c.Params[m.ID] = ParamDef{Name: m.Text, Default: m.Value, Value: m.Value}
	case KindResultDef:
		c.Results[m.ID] = m.Text
	case KindState:
		c.State = m.ID
		c.HasState = true
	case KindResult:
		c.LastResult = m.ID
		c.HasResult = true
	case KindParam:
		p := c.Params[m.ID]
		p.Value = m.Value
		c.Params[m.ID] = p
	}
}

// Enumerated reports whether at least one boot enumeration has been seen
func (c *Catalog) Enumerated() bool {
	return len(c.States) > 0
}

// StateName returns the announced name of a state ID
func (c *Catalog) StateName(id int) string {
	if s, ok := c.States[id]; ok {
		return s.Name
	}
	return fmt.Sprintf("state(%d)", id)
}

// EventName returns the announced name of an event ID
func (c *Catalog) EventName(id int) string {
	if n, ok := c.Events[id]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", id)
}

// ResultName returns the announced name of a result ID
func (c *Catalog) ResultName(id int) string {
	if n, ok := c.Results[id]; ok {
		return n
	}
	return fmt.Sprintf("result(%d)", id)
}

// ParamName returns the announced name of a parameter ID
func (c *Catalog) ParamName(id int) string {
	if p, ok := c.Params[id]; ok && p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("param(%d)", id)
}

// StateIDs returns the known state IDs in ascending order
func (c *Catalog) StateIDs() []int {
	return sortedKeys(c.States)
}

// ParamIDs returns the known parameter IDs in ascending order
func (c *Catalog) ParamIDs() []int {
	return sortedKeys(c.Params)
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
