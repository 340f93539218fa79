package command

// Trigger schedules its command when the condition goes from false to true.
type Trigger struct {
	condition func() bool
	command   Command
	last      bool
}

func NewTrigger(condition func() bool, c Command) *Trigger {
	return &Trigger{condition: condition, command: c}
}

// Check returns the command on a rising edge of the condition, else nil.
func (t *Trigger) Check() Command {
	current := t.condition()
	fire := current && !t.last
	t.last = current
	if fire {
		return t.command
	}
	return nil
}

// Machine owns the active commands and the triggers. It is not safe for
// concurrent use; call it from the robot loop.
type Machine struct {
	active   []Command
	triggers []*Trigger
}

func NewMachine() *Machine {
	return &Machine{}
}

func (m *Machine) AddTrigger(t *Trigger) {
	m.triggers = append(m.triggers, t)
}

func (m *Machine) Schedule(c Command) {
	c.Init()
	m.active = append(m.active, c)
}

// Update runs every active command once, drops the finished ones and then
// evaluates triggers. Commands scheduled by triggers get their first Update
// on the next call.
func (m *Machine) Update() {
	remaining := m.active[:0]
	for _, c := range m.active {
		c.Update()
		if !c.IsFinished() {
			remaining = append(remaining, c)
		}
	}
	for i := len(remaining); i < len(m.active); i++ {
		m.active[i] = nil
	}
	m.active = remaining

	for _, t := range m.triggers {
		if c := t.Check(); c != nil {
			m.Schedule(c)
		}
	}
}

// Busy reports whether any command is still active.
func (m *Machine) Busy() bool {
	return len(m.active) > 0
}

// Clear drops all active commands without finishing them.
func (m *Machine) Clear() {
	m.active = nil
}
