// Package thread holds a branching conversation tree.
//
// The tree has two layers. The confirmed layer is what the backend has (or
// will be told about through repo sync). The pending layer holds optimistic
// local messages, such as a user message whose run has not been accepted
// yet. Reads merge both layers; writes to one never touch the other.
// Only the confirmed layer is exported.
package thread

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pithecene-io/waypoint/types"
)

// Sentinel errors.
var (
	// ErrDuplicateMessage is returned when adding an id that already exists.
	ErrDuplicateMessage = errors.New("message already exists")
	// ErrUnknownMessage is returned for ids not present in either layer.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrNotPending is returned when confirming a message that is not pending.
	ErrNotPending = errors.New("message is not pending")
)

type node struct {
	msg      types.Message
	parent   string
	children []string
	pending  bool
}

// Tree is a branching message tree. It is safe for concurrent use.
type Tree struct {
	mu       sync.RWMutex
	nodes    map[string]*node
	order    []string // confirmed insertion order, used by Export
	roots    []string
	head     string
	onChange func()
}

// Option configures a Tree.
type Option func(*Tree)

// WithOnChange registers fn to run after every change to the confirmed
// layer or the head. fn runs without the tree lock held.
func WithOnChange(fn func()) Option {
	return func(t *Tree) { t.onChange = fn }
}

// New creates an empty tree.
func New(opts ...Option) *Tree {
	t := &Tree{nodes: make(map[string]*node)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tree) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}

// Append adds a confirmed message under parentID ("" for a root) and moves
// the head to it.
func (t *Tree) Append(parentID string, msg types.Message) error {
	if err := t.insert(parentID, msg, false); err != nil {
		return err
	}
	t.changed()
	return nil
}

// AddPending adds an optimistic message under parentID and moves the head
// to it. It is invisible to Export until confirmed.
func (t *Tree) AddPending(parentID string, msg types.Message) error {
	return t.insert(parentID, msg, true)
}

func (t *Tree) insert(parentID string, msg types.Message, pending bool) error {
	if msg.ID == "" {
		return errors.New("message id must be non-empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[msg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.ID)
	}
	if parentID != "" {
		p, ok := t.nodes[parentID]
		if !ok {
			return fmt.Errorf("%w: parent %s", ErrUnknownMessage, parentID)
		}
		if p.pending && !pending {
			return fmt.Errorf("confirmed message %s cannot hang off pending %s", msg.ID, parentID)
		}
		p.children = append(p.children, msg.ID)
	} else {
		t.roots = append(t.roots, msg.ID)
	}

	t.nodes[msg.ID] = &node{msg: msg.Clone(), parent: parentID, pending: pending}
	if !pending {
		t.order = append(t.order, msg.ID)
	}
	t.head = msg.ID
	return nil
}

// Confirm moves a pending message into the confirmed layer.
func (t *Tree) Confirm(id string) error {
	t.mu.Lock()
	n, ok := t.nodes[id]
	switch {
	case !ok:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	case !n.pending:
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	n.pending = false
	t.order = append(t.order, id)
	t.mu.Unlock()

	t.changed()
	return nil
}

// Discard removes a pending message and any pending descendants. The head
// moves back to the discarded message's parent.
func (t *Tree) Discard(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if !n.pending {
		return fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	t.removeLocked(id)
	if n.parent != "" {
		p := t.nodes[n.parent]
		p.children = slices.DeleteFunc(p.children, func(c string) bool { return c == id })
	} else {
		t.roots = slices.DeleteFunc(t.roots, func(c string) bool { return c == id })
	}
	if _, still := t.nodes[t.head]; !still {
		t.head = n.parent
	}
	return nil
}

func (t *Tree) removeLocked(id string) {
	n := t.nodes[id]
	for _, c := range n.children {
		t.removeLocked(c)
	}
	delete(t.nodes, id)
}

// Update applies fn to a copy of the message and stores the result.
// The id cannot be changed.
func (t *Tree) Update(id string, fn func(*types.Message)) error {
	t.mu.Lock()
	n, ok := t.nodes[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	msg := n.msg.Clone()
	fn(&msg)
	msg.ID = id
	n.msg = msg.Clone()
	pending := n.pending
	t.mu.Unlock()

	if !pending {
		t.changed()
	}
	return nil
}

// Get returns a copy of the message with id from either layer.
func (t *Tree) Get(id string) (types.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return types.Message{}, false
	}
	return n.msg.Clone(), true
}

// MessageByID returns the message with id and its parent id.
func (t *Tree) MessageByID(id string) (types.Message, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return types.Message{}, "", false
	}
	return n.msg.Clone(), n.parent, true
}

// IsPending reports whether id is in the pending layer.
func (t *Tree) IsPending(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	return ok && n.pending
}

// Head returns the id of the current head, or "" for an empty tree.
func (t *Tree) Head() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.head
}

// SetHead moves the head to id.
func (t *Tree) SetHead(id string) error {
	t.mu.Lock()
	if _, ok := t.nodes[id]; !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	moved := t.head != id
	t.head = id
	t.mu.Unlock()

	if moved {
		t.changed()
	}
	return nil
}

// Leaf follows the newest child from id down to a leaf.
func (t *Tree) Leaf(id string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]bool)
	for {
		n, ok := t.nodes[id]
		if !ok || len(n.children) == 0 || seen[id] {
			return id
		}
		seen[id] = true
		id = n.children[len(n.children)-1]
	}
}

// Children returns the child ids of id in insertion order.
func (t *Tree) Children(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id == "" {
		return slices.Clone(t.roots)
	}
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	return slices.Clone(n.children)
}

// Siblings returns the ids sharing id's parent, including id.
func (t *Tree) Siblings(id string) []string {
	t.mu.RLock()
	n, ok := t.nodes[id]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return t.Children(n.parent)
}

// Path returns the messages from the root to the head.
func (t *Tree) Path() []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pathLocked(t.head)
}

// PathTo returns the messages from the root to id.
func (t *Tree) PathTo(id string) []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pathLocked(id)
}

func (t *Tree) pathLocked(id string) []types.Message {
	var rev []types.Message
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		n, ok := t.nodes[id]
		if !ok {
			break
		}
		seen[id] = true
		rev = append(rev, n.msg.Clone())
		id = n.parent
	}
	slices.Reverse(rev)
	return rev
}

// LastAssistant returns the last assistant message on the head path.
func (t *Tree) LastAssistant() (types.Message, bool) {
	path := t.Path()
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Role == types.RoleAssistant {
			return path[i], true
		}
	}
	return types.Message{}, false
}

// Len returns the number of messages in both layers.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Export serializes the confirmed layer in insertion order. A pending head
// is reported as its nearest confirmed ancestor.
func (t *Tree) Export() types.ExportedRepo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	repo := types.ExportedRepo{Messages: make([]types.ExportedMessage, 0, len(t.order))}
	for _, id := range t.order {
		n := t.nodes[id]
		em := types.ExportedMessage{Message: n.msg.Clone()}
		if n.parent != "" {
			p := n.parent
			em.ParentID = &p
		}
		repo.Messages = append(repo.Messages, em)
	}

	head := t.head
	for head != "" && t.nodes[head] != nil && t.nodes[head].pending {
		head = t.nodes[head].parent
	}
	if head != "" {
		repo.HeadID = &head
	}
	return repo
}

// Import replaces the whole tree with repo. The pending layer is dropped.
// Messages may appear in any order but every parent must be present.
func (t *Tree) Import(repo types.ExportedRepo) error {
	nodes := make(map[string]*node, len(repo.Messages))
	order := make([]string, 0, len(repo.Messages))
	for _, em := range repo.Messages {
		id := em.Message.ID
		if id == "" {
			return errors.New("import: message with empty id")
		}
		if _, dup := nodes[id]; dup {
			return fmt.Errorf("import: %w: %s", ErrDuplicateMessage, id)
		}
		nodes[id] = &node{msg: em.Message.Clone(), parent: em.Parent()}
		order = append(order, id)
	}

	var roots []string
	for _, id := range order {
		n := nodes[id]
		if n.parent == "" {
			roots = append(roots, id)
			continue
		}
		p, ok := nodes[n.parent]
		if !ok {
			return fmt.Errorf("import: %w: parent %s of %s", ErrUnknownMessage, n.parent, id)
		}
		p.children = append(p.children, id)
	}

	head := ""
	if repo.HeadID != nil {
		if _, ok := nodes[*repo.HeadID]; ok {
			head = *repo.HeadID
		}
	}
	if head == "" && len(order) > 0 {
		head = order[len(order)-1]
	}

	t.mu.Lock()
	t.nodes = nodes
	t.order = order
	t.roots = roots
	t.head = head
	t.mu.Unlock()

	t.changed()
	return nil
}
