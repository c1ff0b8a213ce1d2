// Package llmtest provides configurable fakes for the llm capability
// traits, used by the router, orchestrator, and triad tests in place of a
// concrete provider wire client (those are outside this repo's scope).
package llmtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noeticlab/noesis/internal/llm"
	"github.com/noeticlab/noesis/internal/registry"
)

// Client is a configurable fake llm.Client.
type Client struct {
	id   string
	tier registry.Tier

	mu       sync.Mutex
	calls    []llm.CompletionRequest
	queue    []response
	fallback response
}

type response struct {
	out llm.Output
	err error
}

// NewClient creates a fake client for the given provider id/tier. By
// default Complete succeeds with a short canned response.
func NewClient(id string, tier registry.Tier) *Client {
	return &Client{
		id:   id,
		tier: tier,
		fallback: response{out: llm.Output{
			Text:      fmt.Sprintf("response from %s", id),
			TokensIn:  10,
			TokensOut: 20,
		}},
	}
}

func (c *Client) ProviderID() string { return c.id }

// QueueSuccess enqueues a successful response to be returned by the next
// Complete call.
func (c *Client) QueueSuccess(out llm.Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, response{out: out})
}

// QueueError enqueues a classified error to be returned by the next
// Complete call.
func (c *Client) QueueError(class llm.ErrorClass, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, response{err: &llm.ClassifiedError{Class: class, Err: err}})
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Output, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	var r response
	if len(c.queue) > 0 {
		r, c.queue = c.queue[0], c.queue[1:]
	} else {
		r = c.fallback
	}
	c.mu.Unlock()

	if r.err != nil {
		return llm.Output{}, r.err
	}
	out := r.out
	out.ProviderID = c.id
	out.Tier = c.tier
	out.AttemptCount = 1
	return out, nil
}

// Calls returns every request this fake has observed, in order.
func (c *Client) Calls() []llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.CompletionRequest, len(c.calls))
	copy(out, c.calls)
	return out
}

// Probe implements health.Probeable by delegating to Complete with a
// minimal throwaway request — the Provider Registry's background prober
// can treat any llm.Client as a health target this way.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.Complete(ctx, llm.CompletionRequest{Prompt: "ping", MaxOutputTokens: 1})
	return err
}

// Retriever is a configurable fake llm.Retriever.
type Retriever struct {
	Passages []llm.Passage
	Err      error
	Delay    time.Duration
}

func (r *Retriever) Retrieve(ctx context.Context, question string, budget time.Duration) ([]llm.Passage, error) {
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Passages, nil
}

// ObserverCtx is a configurable fake llm.ObserverCtx.
type ObserverCtx struct {
	Data map[string]any
	Err  error
}

func (o *ObserverCtx) Snapshot(ctx context.Context) (map[string]any, error) {
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Data, nil
}

// Renderer is a configurable fake llm.Renderer.
type Renderer struct {
	mu        sync.Mutex
	Rendered  []string
	Err       error
}

func (r *Renderer) Render(ctx context.Context, markdown string, outputPath string) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	r.Rendered = append(r.Rendered, outputPath)
	r.mu.Unlock()
	return nil
}

var (
	_ llm.Client      = (*Client)(nil)
	_ llm.Retriever   = (*Retriever)(nil)
	_ llm.ObserverCtx = (*ObserverCtx)(nil)
	_ llm.Renderer    = (*Renderer)(nil)
)
