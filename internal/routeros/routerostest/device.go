// Package routerostest provides an in-memory device for exercising code that
// talks to RouterOS through routeros.Session.
package routerostest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Butterfly-Student/MikroBill-API/internal/routeros"
)

// Device emulates the menus of a single router. Every Dial returns a new
// connection handle sharing the same menus.
type Device struct {
	mu       sync.Mutex
	menus    map[string][]routeros.Record
	nextID   int
	calls    map[string]int
	failures map[string][]error
	hook     func(command string, n int) error
	dialErr  error
	dials    int
	conns    []*Conn
	streams  map[string][]*stream
}

func NewDevice() *Device {
	return &Device{
		menus:    make(map[string][]routeros.Record),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
		streams:  make(map[string][]*stream),
	}
}

// Dialer returns a dialer that always connects to d.
func (d *Device) Dialer() routeros.Dialer {
	return func(ctx context.Context, cfg routeros.Config) (routeros.Session, error) {
		return d.Dial(ctx, cfg)
	}
}

// Dialer routes dials by configured address.
func Dialer(devices map[string]*Device) routeros.Dialer {
	return func(ctx context.Context, cfg routeros.Config) (routeros.Session, error) {
		d, ok := devices[cfg.Address]
		if !ok {
			return nil, fmt.Errorf("%w: no route to %s", routeros.ErrConnection, cfg.Address)
		}
		return d.Dial(ctx, cfg)
	}
}

func (d *Device) Dial(ctx context.Context, cfg routeros.Config) (routeros.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", routeros.ErrTimeout, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := &Conn{device: d}
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials returns the number of dial attempts, successful or not.
func (d *Device) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *Device) SetDialError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

// FailNext makes the next invocation of command return err.
func (d *Device) FailNext(command string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[command] = append(d.failures[command], err)
}

// FailWhen installs a hook consulted on every command; n is the 1-based call
// count for that command.
func (d *Device) FailWhen(hook func(command string, n int) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hook = hook
}

func (d *Device) Calls(command string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[command]
}

// Put adds a record to menu and returns its ".id".
func (d *Device) Put(menu string, rec routeros.Record) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.putLocked(menu, rec)
}

func (d *Device) putLocked(menu string, rec routeros.Record) string {
	d.nextID++
	item := rec.Clone()
	if item.ID() == "" {
		item[".id"] = fmt.Sprintf("*%X", d.nextID)
	}
	d.menus[menu] = append(d.menus[menu], item)
	return item.ID()
}

// Replace swaps the whole content of menu.
func (d *Device) Replace(menu string, recs ...routeros.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.menus[menu] = nil
	for _, rec := range recs {
		d.putLocked(menu, rec)
	}
}

// Items returns a snapshot of menu.
func (d *Device) Items(menu string) []routeros.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]routeros.Record, 0, len(d.menus[menu]))
	for _, rec := range d.menus[menu] {
		out = append(out, rec.Clone())
	}
	return out
}

// Find returns the item of menu whose name attribute equals name.
func (d *Device) Find(menu, name string) (routeros.Record, bool) {
	for _, rec := range d.Items(menu) {
		if rec["name"] == name {
			return rec, true
		}
	}
	return nil, false
}

// Push delivers records to every open subscription on command.
func (d *Device) Push(command string, recs ...routeros.Record) {
	d.mu.Lock()
	streams := append([]*stream(nil), d.streams[command]...)
	d.mu.Unlock()

	for _, st := range streams {
		for _, rec := range recs {
			st.deliver(rec.Clone())
		}
	}
}

// Break terminates every open subscription on command with err.
func (d *Device) Break(command string, err error) {
	d.mu.Lock()
	streams := d.streams[command]
	delete(d.streams, command)
	d.mu.Unlock()

	for _, st := range streams {
		st.terminate(err)
	}
}

// Subscribers returns the number of open subscriptions on command.
func (d *Device) Subscribers(command string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams[command])
}

// Drop closes every connection handle as if the link went down.
func (d *Device) Drop() {
	d.mu.Lock()
	conns := d.conns
	d.conns = nil
	all := d.streams
	d.streams = make(map[string][]*stream)
	d.mu.Unlock()

	for _, c := range conns {
		c.fail(fmt.Errorf("%w: link down", routeros.ErrConnection))
	}
	for _, streams := range all {
		for _, st := range streams {
			st.terminate(fmt.Errorf("%w: link down", routeros.ErrConnection))
		}
	}
}

func (d *Device) injected(command string) error {
	d.calls[command]++
	if queued := d.failures[command]; len(queued) > 0 {
		d.failures[command] = queued[1:]
		return queued[0]
	}
	if d.hook != nil {
		return d.hook(command, d.calls[command])
	}
	return nil
}

func (d *Device) invoke(command string, args []string) (*routeros.Reply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.injected(command); err != nil {
		return nil, err
	}

	idx := strings.LastIndex(command, "/")
	if idx <= 0 {
		return nil, routeros.NewRejection(command, "no such command")
	}
	menu, verb := command[:idx], command[idx+1:]
	attrs, query := parseWords(args)

	switch verb {
	case "print":
		out := &routeros.Reply{}
		for _, rec := range d.menus[menu] {
			if matches(rec, query) {
				out.Records = append(out.Records, rec.Clone())
			}
		}
		return out, nil
	case "add":
		if name := attrs["name"]; name != "" {
			for _, rec := range d.menus[menu] {
				if rec["name"] == name {
					return nil, routeros.NewRejection(command, "failure: already have such name")
				}
			}
		}
		return &routeros.Reply{Ret: d.putLocked(menu, attrs)}, nil
	case "set":
		id := attrs[".id"]
		for _, rec := range d.menus[menu] {
			if rec.ID() == id {
				for k, v := range attrs {
					rec[k] = v
				}
				return &routeros.Reply{}, nil
			}
		}
		return nil, routeros.NewRejection(command, "no such item")
	case "remove":
		id := attrs[".id"]
		items := d.menus[menu]
		for i, rec := range items {
			if rec.ID() == id {
				d.menus[menu] = append(items[:i:i], items[i+1:]...)
				return &routeros.Reply{}, nil
			}
		}
		return nil, routeros.NewRejection(command, "no such item")
	}
	return nil, routeros.NewRejection(command, "no such command")
}

func parseWords(args []string) (routeros.Record, routeros.Record) {
	attrs := routeros.Record{}
	query := routeros.Record{}
	for _, w := range args {
		switch {
		case strings.HasPrefix(w, "="):
			k, v, _ := strings.Cut(w[1:], "=")
			attrs[k] = v
		case strings.HasPrefix(w, "?"):
			k, v, _ := strings.Cut(w[1:], "=")
			query[k] = v
		}
	}
	return attrs, query
}

func matches(rec, query routeros.Record) bool {
	for k, v := range query {
		if rec[k] != v {
			return false
		}
	}
	return true
}

// Conn is one connection handle to a Device.
type Conn struct {
	device *Device

	mu  sync.Mutex
	err error
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.fail(routeros.ErrClosed)
	return nil
}

func (c *Conn) Invoke(ctx context.Context, command string, args ...string) (*routeros.Reply, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", routeros.ErrTimeout, command)
	}
	return c.device.invoke(command, args)
}

func (c *Conn) Listen(ctx context.Context, command string, args ...string) (routeros.Stream, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}

	d := c.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected(command); err != nil {
		return nil, err
	}

	st := &stream{
		device:  d,
		command: command,
		out:     make(chan routeros.Record, 64),
		done:    make(chan struct{}),
	}
	d.streams[command] = append(d.streams[command], st)

	go func() {
		select {
		case <-ctx.Done():
			st.terminate(ctx.Err())
		case <-st.done:
		}
	}()
	return st, nil
}

type stream struct {
	device  *Device
	command string
	out     chan routeros.Record
	done    chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (st *stream) deliver(rec routeros.Record) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	select {
	case st.out <- rec:
	default:
	}
}

func (st *stream) terminate(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	st.err = err
	close(st.out)
	close(st.done)
}

func (st *stream) Records() <-chan routeros.Record {
	return st.out
}

func (st *stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

func (st *stream) Close() error {
	d := st.device
	d.mu.Lock()
	streams := d.streams[st.command]
	for i, s := range streams {
		if s == st {
			d.streams[st.command] = append(streams[:i:i], streams[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	st.terminate(nil)
	return nil
}
