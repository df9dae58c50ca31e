package zwc

import (
	"sync"

	"github.com/shimmeringbee/zwc/frame"
	"golang.org/x/sync/semaphore"
)

// identity is what a node reported about itself during its interview.
type identity struct {
	manufacturerID uint16
	productTypeID  uint16
	productID      uint16
}

type endpoint struct {
	id       uint8
	generic  uint8
	specific uint8

	commandClasses []frame.CommandClass
	instance       map[frame.CommandClass]*Instance
}

type node struct {
	// Immutable data.
	nodeID uint8
	m      *sync.RWMutex

	// Mutable data, obtain lock first.
	listening      bool
	generic        uint8
	specific       uint8
	commandClasses []frame.CommandClass
	identity       identity
	endpoint       map[uint8]*endpoint

	// Interview data.
	interviewSem *semaphore.Weighted
	interviewing bool
}

func (n *node) _endpoint(id uint8) *endpoint {
	ep, found := n.endpoint[id]
	if !found {
		ep = &endpoint{
			id:       id,
			instance: make(map[frame.CommandClass]*Instance),
		}
		n.endpoint[id] = ep
	}

	return ep
}

func (n *node) _supportsCommandClass(cc frame.CommandClass) bool {
	for _, c := range n.commandClasses {
		if c == cc {
			return true
		}
	}

	return false
}
