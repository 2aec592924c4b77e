package modules

import (
	"bytes"
	"text/template"

	"github.com/maximthomas/goradius/pkg/notify"
	"github.com/maximthomas/goradius/pkg/rcode"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/pkg/errors"
	"layeh.com/radius"
)

const (
	defaultMailSubject  = "{{.ReplyCode}} for {{.UserName}}"
	defaultMailTemplate = "User {{.UserName}} got {{.ReplyCode}} from {{.Client}}.\n"
)

// Mail sends a notification from post_auth for accepted and/or rejected users.
type Mail struct {
	BaseModule
	To       string
	Subject  string
	Template string
	OnReject bool
	OnAccept bool
	Sender   struct {
		Type       string
		Properties map[string]interface{}
	}

	to      *template.Template
	subject *template.Template
	body    *template.Template
	sender  notify.Sender
}

type mailData struct {
	ID        string
	UserName  string
	Code      string
	ReplyCode string
	Client    string
	Request   map[string]string
	Reply     map[string]string
	Control   map[string]string
}

func init() {
	RegisterModule("mail", newMail)
}

func newMail(base BaseModule) (Module, error) {
	m := &Mail{OnReject: true}
	if err := base.decode(m); err != nil {
		return nil, err
	}
	m.BaseModule = base
	if m.To == "" {
		return nil, errors.Errorf("module %s: to is required", base.Name)
	}
	if m.Subject == "" {
		m.Subject = defaultMailSubject
	}
	if m.Template == "" {
		m.Template = defaultMailTemplate
	}
	if m.Sender.Type == "" {
		m.Sender.Type = "email"
	}

	var err error
	if m.to, err = template.New("to").Parse(m.To); err != nil {
		return nil, errors.Wrapf(err, "module %s: to", base.Name)
	}
	if m.subject, err = template.New("subject").Parse(m.Subject); err != nil {
		return nil, errors.Wrapf(err, "module %s: subject", base.Name)
	}
	if m.body, err = template.New("body").Option("missingkey=zero").Parse(m.Template); err != nil {
		return nil, errors.Wrapf(err, "module %s: template", base.Name)
	}
	if m.sender, err = notify.GetSender(m.Sender.Type, m.Sender.Properties); err != nil {
		return nil, errors.Wrapf(err, "module %s", base.Name)
	}
	return m, nil
}

func render(t *template.Template, data mailData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (m *Mail) PostAuth(r *request.Request) (rcode.Code, error) {
	switch {
	case r.ReplyCode == radius.CodeAccessAccept && m.OnAccept:
	case r.ReplyCode == radius.CodeAccessReject && m.OnReject:
	default:
		return rcode.Noop, nil
	}
	data := mailData{
		ID:        r.ID,
		UserName:  r.UserName(),
		Code:      r.Code.String(),
		ReplyCode: r.ReplyCode.String(),
		Request:   r.Packet.Map(),
		Reply:     r.Reply.Map(),
		Control:   r.Control.Map(),
	}
	if r.Client != nil {
		data.Client = r.Client.String()
	}
	to, err := render(m.to, data)
	if err != nil {
		return rcode.Fail, errors.Wrap(err, "render to")
	}
	subject, err := render(m.subject, data)
	if err != nil {
		return rcode.Fail, errors.Wrap(err, "render subject")
	}
	body, err := render(m.body, data)
	if err != nil {
		return rcode.Fail, errors.Wrap(err, "render template")
	}
	if err := m.sender.Send(to, subject, body); err != nil {
		return rcode.Fail, err
	}
	r.Logger().WithField("module", m.Name).Debugf("notification sent to %s", to)
	return rcode.OK, nil
}
