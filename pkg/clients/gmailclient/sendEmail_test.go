package gmailclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("relief@example.org", "lead@example.org", "Stale needs", "2 needs waiting")

	assert.Equal(t,
		"From: relief@example.org\r\nTo: lead@example.org\r\nSubject: Stale needs\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n2 needs waiting",
		msg)
}

func TestBuildMessage_NoSender(t *testing.T) {
	msg := buildMessage("", "lead@example.org", "Stale needs", "body")

	assert.NotContains(t, msg, "From:")
	assert.Contains(t, msg, "To: lead@example.org\r\n")
}
