package tree

// EventType identifies a tree change.
type EventType int

const (
	EventCreated EventType = iota
	EventRemoved
	EventMoved
	EventAttached
	EventDetached
	EventCollapsedChanged
	EventUpdated
	EventActivated
	EventWindowChanged
)

var eventNames = [...]string{"created", "removed", "moved", "attached", "detached", "collapsed-changed", "updated", "activated", "window-changed"}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// Event describes one change with enough neighbour context for observers
// to update incrementally.
type Event struct {
	Type     EventType
	WindowID int
	Node     *Node

	// Attach/detach context.
	Parent          *Node
	OldParent       *Node
	PreviousSibling *Node
	NextSibling     *Node

	// Flat-order neighbours before a move.
	OldPrevious *Node
	OldNext     *Node

	Index       int
	OldWindowID int
	Collapsed   bool
}
