package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	err      error
	eng      *runtime.Engine
	src      *source
	module   *runtime.Module
	instance *runtime.Instance
	result   *runtime.Result
	funcs    []engine.FunctionInfo
	input    textinput.Model
	selected int
	state    modelState
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputPayload
	stateShowResult
)

func newInteractiveModel(eng *runtime.Engine, src *source) *interactiveModel {
	return &interactiveModel{
		eng:   eng,
		src:   src,
		state: stateSelectFunc,
	}
}

type loadedMsg struct {
	err   error
	mod   *runtime.Module
	funcs []engine.FunctionInfo
}

// callResultMsg carries the instance the call ran on back to Update, which
// owns the model's fields.
type callResultMsg struct {
	err      error
	result   *runtime.Result
	instance *runtime.Instance
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *interactiveModel) loadModule() tea.Msg {
	mod, err := m.src.compile(context.Background(), m.eng)
	if err != nil {
		return loadedMsg{err: err}
	}

	var funcs []engine.FunctionInfo
	for _, f := range mod.Exports() {
		if f.IsBridge() {
			funcs = append(funcs, f)
		}
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Name < funcs[j].Name })

	if len(funcs) == 0 {
		mod.Release()
		return loadedMsg{err: fmt.Errorf("%s exports no (i32, i32) -> i64 functions", m.src)}
	}
	return loadedMsg{mod: mod, funcs: funcs}
}

func (m *interactiveModel) close() {
	if m.instance != nil {
		_ = m.instance.Close(context.Background())
		m.instance = nil
	}
	if m.module != nil {
		m.module.Release()
		m.module = nil
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.close()
			return m, tea.Quit

		case "q":
			if m.state != stateInputPayload {
				m.close()
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) > 0 {
					m.prepareInput()
					m.state = stateInputPayload
					return m, textinput.Blink
				}

			case stateInputPayload:
				return m, m.callFunction(m.input.Value())

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = nil
				m.err = nil
			}
			return m, nil

		case "esc":
			switch m.state {
			case stateInputPayload:
				m.state = stateSelectFunc
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = nil
				m.err = nil
			}
			return m, nil
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		m.module = msg.mod

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		m.instance = msg.instance
		// A trapped instance may be left in any state; start over.
		if msg.err != nil && m.instance != nil {
			_ = m.instance.Close(context.Background())
			m.instance = nil
		}
	}

	if m.state == stateInputPayload {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) prepareInput() {
	ti := textinput.New()
	ti.Placeholder = "payload"
	ti.Prompt = "payload: "
	ti.Width = 60
	ti.Focus()
	m.input = ti
}

func (m *interactiveModel) callFunction(payload string) tea.Cmd {
	name := m.funcs[m.selected].Name
	eng, mod, inst := m.eng, m.module, m.instance
	return func() tea.Msg {
		ctx := context.Background()

		if inst == nil {
			if mod == nil {
				return callResultMsg{err: fmt.Errorf("module not loaded")}
			}
			var err error
			if inst, err = eng.Instantiate(ctx, mod); err != nil {
				return callResultMsg{err: err}
			}
		}

		res, err := eng.CallRaw(ctx, inst, name, []byte(payload))
		return callResultMsg{result: res, err: err, instance: inst}
	}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if len(m.funcs) == 0 {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Bridge"))
	b.WriteString(" ")
	b.WriteString(m.src.String())
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select an export to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + f.Name))
			} else {
				b.WriteString("  " + funcStyle.Render(f.Name))
			}
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.Signature()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputPayload:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.Name)))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.Name)))
		b.WriteString(m.renderResult())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) renderResult() string {
	if m.err != nil {
		kind, _ := errors.KindOf(m.err)
		return errorStyle.Render(fmt.Sprintf("%s: %v", kind, m.err))
	}
	stats := helpStyle.Render(fmt.Sprintf("fuel %d, flags %s", m.result.FuelConsumed, m.result.Flags))
	if f, ok := m.result.Failure(); ok {
		return errorStyle.Render("application failure: "+f.Error()) + "\n" + stats
	}
	return resultStyle.Render(string(m.result.Payload)) + "\n" + stats
}

func runInteractive(eng *runtime.Engine, src *source) error {
	m := newInteractiveModel(eng, src)
	defer m.close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
