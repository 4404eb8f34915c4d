package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/crufters/actio"
	"github.com/google/uuid"
)

// Common test errors
var (
	ErrTest        = errors.New("test error")
	ErrConstructor = errors.New("constructor error")
	ErrInit        = errors.New("init error")
	ErrClose       = errors.New("close error")
)

// Counter counts constructions, init hooks and closes per class.
type Counter struct {
	mu     sync.Mutex
	built  map[string]int
	inits  map[string]int
	closed []string
}

// NewCounter creates an empty Counter.
func NewCounter() *Counter {
	return &Counter{
		built: make(map[string]int),
		inits: make(map[string]int),
	}
}

func (c *Counter) constructed(class string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built[class]++
}

func (c *Counter) initialized(class string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits[class]++
}

func (c *Counter) close(class string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, class)
}

// Built returns how many times class was constructed.
func (c *Counter) Built(class string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.built[class]
}

// Inits returns how many times the init hook of class ran.
func (c *Counter) Inits(class string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits[class]
}

// Closed returns the classes closed so far, in order.
func (c *Counter) Closed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.closed))
	copy(out, c.closed)
	return out
}

// Node is the instance built by NodeService. Deps holds the constructor
// arguments in declared order.
type Node struct {
	ID    string
	Class string
	Deps  actio.Args

	counter  *Counter
	initErr  error
	closeErr error
}

// OnInit implements actio.Initializer.
func (n *Node) OnInit(ctx context.Context) error {
	n.counter.initialized(n.Class)
	return n.initErr
}

// Close records the close and returns the configured error.
func (n *Node) Close() error {
	n.counter.close(n.Class)
	return n.closeErr
}

// Dep returns the i-th dependency as a *Node.
func (n *Node) Dep(i int) *Node {
	if i >= len(n.Deps) {
		return nil
	}
	dep, _ := n.Deps[i].(*Node)
	return dep
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.Class, n.ID)
}

// Greeter is a small service with one endpoint of each shape.
type Greeter struct {
	Namespace string
	Prefix    string
}

type HelloRequest struct {
	Name string `json:"name"`
}

type HelloResponse struct {
	Greeting string `json:"greeting"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (g *Greeter) Hello(ctx context.Context, req HelloRequest) (*HelloResponse, error) {
	name := req.Name
	if name == "" {
		name = "world"
	}
	return &HelloResponse{Greeting: g.Prefix + " " + name}, nil
}

func (g *Greeter) Add(ctx context.Context, a, b Point) (*Point, error) {
	return &Point{X: a.X + b.X, Y: a.Y + b.Y}, nil
}

func (g *Greeter) Whoami(ctx context.Context) (string, error) {
	return g.Namespace, nil
}

func (g *Greeter) Secret(ctx context.Context) (string, error) {
	return "hidden", nil
}

// Fail returns a ServiceError carrying the requested status.
func (g *Greeter) Fail(ctx context.Context, status int) (any, error) {
	return nil, actio.Error("failed on purpose", status)
}

func (g *Greeter) Boom(ctx context.Context) (any, error) {
	panic("boom")
}

// Echo writes the request body back with a custom header.
func (g *Greeter) Echo(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("X-Echo", "1")
	w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
	_, err := fmt.Fprint(w, readAll(r))
	return err
}

func newID() string {
	return uuid.NewString()
}
