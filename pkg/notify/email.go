package notify

import (
	"crypto/tls"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	mail "github.com/xhit/go-simple-mail/v2"
)

type EmailSender struct {
	From   string
	server *mail.SMTPServer
}

type smtpProperties struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Encryption string
	Insecure   bool
}

func init() {
	RegisterSender("email", NewEmailSender)
}

var encryptions = map[string]mail.Encryption{
	"":         mail.EncryptionNone,
	"none":     mail.EncryptionNone,
	"ssltls":   mail.EncryptionSSLTLS,
	"starttls": mail.EncryptionSTARTTLS,
}

func NewEmailSender(props map[string]interface{}) (Sender, error) {
	var sp smtpProperties
	if err := mapstructure.WeakDecode(props, &sp); err != nil {
		return nil, err
	}
	if sp.Host == "" || sp.From == "" {
		return nil, errors.New("email sender requires host and from")
	}
	enc, ok := encryptions[sp.Encryption]
	if !ok {
		return nil, errors.Errorf("unknown encryption %q", sp.Encryption)
	}
	if sp.Port == 0 {
		sp.Port = 25
	}

	server := mail.NewSMTPClient()
	server.Host = sp.Host
	server.Port = sp.Port
	server.Username = sp.Username
	server.Password = sp.Password
	server.Encryption = enc
	server.KeepAlive = false
	server.ConnectTimeout = 5 * time.Second
	server.SendTimeout = 5 * time.Second
	if sp.Insecure {
		server.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test relays
	}

	return &EmailSender{server: server, From: sp.From}, nil
}

func (es *EmailSender) Send(to, subject, text string) error {
	smtpClient, err := es.server.Connect()
	if err != nil {
		return errors.Wrap(err, "smtp connect")
	}
	defer smtpClient.Close()

	email := mail.NewMSG()
	email.SetFrom(es.From).
		AddTo(to).
		SetSubject(subject)
	email.SetBody(mail.TextPlain, text)
	if email.Error != nil {
		return email.Error
	}
	return errors.Wrap(email.Send(smtpClient), "smtp send")
}
