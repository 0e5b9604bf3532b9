package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/datasync/internal/value"
)

// ErrNoScript is returned by ScriptedNetwork when a request arrives with no
// scripted reply left.
var ErrNoScript = errors.New("scripted network: no reply scripted")

// Request is one request seen by ScriptedNetwork.
type Request struct {
	DatasetID string
	Params    value.Object
}

// Fn returns the request's "fn" member.
func (r Request) Fn() string {
	fn, _ := r.Params.GetString("fn")
	return fn
}

// ReplyFunc produces the reply to one request.
type ReplyFunc func(ctx context.Context, req Request) (value.Object, error)

// ScriptedNetwork is a transport.Client that answers requests from a
// queue of scripted replies and records every request it receives.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedNetwork struct {
	mu       sync.Mutex
	online   bool
	replies  []ReplyFunc
	requests []Request
}

// NewScriptedNetwork creates an online network with no scripted replies.
func NewScriptedNetwork() *ScriptedNetwork {
	return &ScriptedNetwork{online: true}
}

// SetOnline sets the reported connectivity.
func (n *ScriptedNetwork) SetOnline(online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.online = online
}

// IsOnline implements transport.Client.
func (n *ScriptedNetwork) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// Push queues a successful reply.
func (n *ScriptedNetwork) Push(resp value.Object) {
	n.PushFunc(func(context.Context, Request) (value.Object, error) {
		return value.CloneObject(resp), nil
	})
}

// PushJSON queues a successful reply given as JSON text. It panics on
// invalid JSON.
func (n *ScriptedNetwork) PushJSON(text string) {
	obj, err := value.ParseObject([]byte(text))
	if err != nil {
		panic(fmt.Sprintf("PushJSON: %v", err))
	}
	n.Push(obj)
}

// PushError queues a failed reply.
func (n *ScriptedNetwork) PushError(err error) {
	n.PushFunc(func(context.Context, Request) (value.Object, error) {
		return nil, err
	})
}

// PushFunc queues a reply computed when the request arrives.
func (n *ScriptedNetwork) PushFunc(f ReplyFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replies = append(n.replies, f)
}

// Perform implements transport.Client.
func (n *ScriptedNetwork) Perform(ctx context.Context, datasetID string, params value.Object) (value.Object, error) {
	req := Request{DatasetID: datasetID, Params: value.CloneObject(params)}

	n.mu.Lock()
	n.requests = append(n.requests, req)
	if len(n.replies) == 0 {
		n.mu.Unlock()
		return nil, ErrNoScript
	}
	reply := n.replies[0]
	n.replies = n.replies[1:]
	n.mu.Unlock()

	return reply(ctx, req)
}

// Requests returns every request received so far.
func (n *ScriptedNetwork) Requests() []Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Request, len(n.requests))
	copy(out, n.requests)
	return out
}

// LastRequest returns the most recent request. It panics when none was made.
func (n *ScriptedNetwork) LastRequest() Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.requests) == 0 {
		panic("LastRequest: no requests")
	}
	return n.requests[len(n.requests)-1]
}

// Remaining returns the number of unused scripted replies.
func (n *ScriptedNetwork) Remaining() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.replies)
}
