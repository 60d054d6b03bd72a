package chat

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

func newULID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func NewChatID() (string, error)    { return newULID() }
func NewMessageID() (string, error) { return newULID() }
func NewAccountID() (string, error) { return newULID() }
