package notify

import (
	"sync"

	"github.com/maximthomas/goradius/pkg/log"
	"github.com/pkg/errors"
)

type Sender interface {
	Send(to, subject, text string) error
}

var senderRegistry = &sync.Map{}

type senderConstructor func(map[string]interface{}) (Sender, error)

func RegisterSender(id string, constructor senderConstructor) {
	log.WithField("module", "notify").Debugf("registered %v sender", id)
	senderRegistry.Store(id, constructor)
}

func GetSender(id string, props map[string]interface{}) (Sender, error) {
	c, ok := senderRegistry.Load(id)
	if !ok {
		return nil, errors.Errorf("sender %s does not exist", id)
	}
	s, err := c.(senderConstructor)(props)
	if err != nil {
		return s, errors.Wrapf(err, "error creating sender %s", id)
	}
	return s, nil
}

type Message struct {
	To      string
	Subject string
	Text    string
}

// TestSender keeps messages in memory.
type TestSender struct {
	mu       sync.Mutex
	messages []Message
}

func init() {
	RegisterSender("test", NewTestSender)
}

func NewTestSender(_ map[string]interface{}) (Sender, error) {
	return &TestSender{}, nil
}

func (ts *TestSender) Send(to, subject, text string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.messages = append(ts.messages, Message{To: to, Subject: subject, Text: text})
	return nil
}

func (ts *TestSender) Messages() []Message {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	res := make([]Message, len(ts.messages))
	copy(res, ts.messages)
	return res
}
