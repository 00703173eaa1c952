package tui

import (
	"strings"

	"github.com/Iron-Ham/flashdesk/internal/orchestrator"
	"github.com/Iron-Ham/flashdesk/internal/session"
	"github.com/Iron-Ham/flashdesk/internal/tui/styles"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	fieldClass = iota
	fieldImage
	fieldSecret
	fieldCount
)

var fieldLabels = [fieldCount]string{"Class", "Image", "Password"}

// launchForm collects a launch request.
type launchForm struct {
	inputs [fieldCount]textinput.Model
	focus  int
	keys   formKeyMap
}

func newLaunchForm(class, image string) *launchForm {
	f := &launchForm{keys: defaultFormKeyMap()}
	for i := range f.inputs {
		ti := textinput.New()
		ti.CharLimit = 128
		ti.Width = 32
		f.inputs[i] = ti
	}
	f.inputs[fieldClass].Placeholder = "t2.micro"
	f.inputs[fieldClass].SetValue(class)
	f.inputs[fieldImage].Placeholder = "chrome"
	f.inputs[fieldImage].SetValue(image)
	f.inputs[fieldSecret].EchoMode = textinput.EchoPassword
	f.inputs[fieldSecret].EchoCharacter = '•'

	f.focus = fieldClass
	if class != "" && image != "" {
		f.focus = fieldSecret
	}
	f.inputs[f.focus].Focus()
	return f
}

func (f *launchForm) setFocus(i int) {
	f.inputs[f.focus].Blur()
	f.focus = (i + fieldCount) % fieldCount
	f.inputs[f.focus].Focus()
}

// request builds the launch request and wipes the password field.
func (f *launchForm) request() orchestrator.LaunchRequest {
	req := orchestrator.LaunchRequest{
		ResourceClass: strings.TrimSpace(f.inputs[fieldClass].Value()),
		Image:         strings.TrimSpace(f.inputs[fieldImage].Value()),
		Secret:        session.NewSecret(f.inputs[fieldSecret].Value()),
	}
	f.inputs[fieldSecret].Reset()
	return req
}

// update handles a key press. submitted reports that the user confirmed the
// form on its last field; cancelled that they dismissed it.
func (f *launchForm) update(msg tea.KeyMsg) (cmd tea.Cmd, submitted, cancelled bool) {
	switch {
	case key.Matches(msg, f.keys.Cancel):
		f.inputs[fieldSecret].Reset()
		return nil, false, true
	case key.Matches(msg, f.keys.Submit):
		if f.focus == fieldSecret {
			return nil, true, false
		}
		f.setFocus(f.focus + 1)
		return nil, false, false
	case key.Matches(msg, f.keys.Next):
		f.setFocus(f.focus + 1)
		return nil, false, false
	case key.Matches(msg, f.keys.Prev):
		f.setFocus(f.focus - 1)
		return nil, false, false
	}

	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd, false, false
}

func (f *launchForm) view(s *styles.Styles) string {
	var b strings.Builder
	b.WriteString(s.Subtitle.Render("Launch a cloud desktop"))
	b.WriteString("\n\n")
	for i, in := range f.inputs {
		b.WriteString(s.Label.Render(fieldLabels[i]))
		b.WriteString(in.View())
		b.WriteString("\n")
	}
	return b.String()
}
