package apps

import (
	"context"

	"github.com/LeventeLantos/sms-router/internal/router"
)

const EchoName = "echo"

// Echo answers every message with "echo <text>".
type Echo struct{}

func (Echo) Name() string { return EchoName }

func (Echo) Handle(_ context.Context, msg *router.IncomingMessage) (bool, error) {
	msg.Respond("echo " + msg.Text)
	return true, nil
}
