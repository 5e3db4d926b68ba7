// Package relp implements the client side of the Reliable Event Logging
// Protocol (RELP): a framing and acknowledgement layer over TCP, optionally
// wrapped in TLS, used by the syslog ecosystem.
//
// The entry point is the Engine, which owns shared configuration and the
// table of clients it constructed. Clients hold a back-reference to their
// engine; destroying the engine destroys every remaining client.
package relp

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Version is the RELP protocol version offered during session setup.
const Version = 0

const software = "tcpflood,1.0,https://github.com/Cropi/tcpflood"

// Engine constructs and tracks RELP client sessions.
type Engine struct {
	logger logrus.FieldLogger
	fs     afero.Fs

	mu       sync.Mutex
	clients  map[int]*Client
	nextID   int
	commands []string
}

// NewEngine returns an engine whose clients read certificate files through
// fs and report protocol errors through logger.
func NewEngine(fs afero.Fs, logger logrus.FieldLogger) *Engine {
	return &Engine{
		logger:  logger,
		fs:      fs,
		clients: map[int]*Client{},
	}
}

// EnableCommand announces a command in the session offer. Only "syslog" is
// supported; other RELP commands are not implemented by this client.
func (e *Engine) EnableCommand(name string) error {
	if name != "syslog" {
		return fmt.Errorf("relp: command %q not supported", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.commands {
		if c == name {
			return nil
		}
	}
	e.commands = append(e.commands, name)
	return nil
}

// NewClient constructs an unconnected client session registered with the
// engine.
func (e *Engine) NewClient() *Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &Client{
		engine: e,
		id:     e.nextID,
		logger: e.logger.WithField("relp_client", e.nextID),
	}
	e.nextID++
	e.clients[c.id] = c
	return c
}

// DestroyClient closes the client's session and removes it from the engine
// table. Destroying an already-destroyed client is an error, matching the
// engine/client lifecycle contract.
func (e *Engine) DestroyClient(c *Client) error {
	e.mu.Lock()
	_, ok := e.clients[c.id]
	delete(e.clients, c.id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("relp: client %d is not registered with this engine", c.id)
	}
	return c.shutdown()
}

// Destruct tears down every remaining client. Close errors are logged, not
// returned: engine teardown is best-effort.
func (e *Engine) Destruct() {
	e.mu.Lock()
	remaining := make([]*Client, 0, len(e.clients))
	for _, c := range e.clients {
		remaining = append(remaining, c)
	}
	e.clients = map[int]*Client{}
	e.mu.Unlock()

	for _, c := range remaining {
		if err := c.shutdown(); err != nil {
			e.logger.WithError(err).Warn("error closing relp client")
		}
	}
}

func (e *Engine) offeredCommands() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.commands) == 0 {
		return "syslog"
	}
	out := e.commands[0]
	for _, c := range e.commands[1:] {
		out += "," + c
	}
	return out
}
