package core

import (
	"fmt"
	"sync"
)

// CommandHandler decodes its own arguments from data and runs the command.
type CommandHandler func(data *[]byte) error

// Command is one entry of the data dictionary. Responses (MCU to host) have
// no handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string // Argument format, e.g. "pin=%c func=%c"
	Handler CommandHandler
}

// Signature is the dictionary key of the command: its name followed by its
// format.
func (c *Command) Signature() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// CommandRegistry assigns IDs to commands and responses in registration
// order.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[uint16]*Command
	nameToID map[string]uint16
	nextID   uint16
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// Register adds a command and returns its ID. Registering a name twice
// returns the first ID.
func (r *CommandRegistry) Register(name, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.nameToID[name]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.commands[id] = &Command{ID: id, Name: name, Format: format, Handler: handler}
	r.nameToID[name] = id
	return id
}

// RegisterResponse adds a message sent from the MCU to the host.
func (r *CommandRegistry) RegisterResponse(name, format string) uint16 {
	return r.Register(name, format, nil)
}

func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler of command id.
func (r *CommandRegistry) Dispatch(id uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(id)
	if !ok {
		return fmt.Errorf("unknown command ID %d", id)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("%s is a response, not a command", cmd.Name)
	}
	return cmd.Handler(data)
}

// GetCommandsAndResponses splits the registry into dictionary maps keyed by
// signature.
func (r *CommandRegistry) GetCommandsAndResponses() (commands, responses map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands = make(map[string]int)
	responses = make(map[string]int)
	for id, cmd := range r.commands {
		if cmd.Handler != nil {
			commands[cmd.Signature()] = int(id)
		} else {
			responses[cmd.Signature()] = int(id)
		}
	}
	return commands, responses
}
