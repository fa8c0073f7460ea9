// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxNameLen   = 36
	MaxAvatarLen = 2048
)

var (
	ErrNameTooLong   = errors.New("name too long")
	ErrNameEmpty     = errors.New("name empty")
	ErrAvatarTooLong = errors.New("avatar too long")
)

// HostID identifies one running lanlink process in the mesh.
type HostID string

// NewHostID returns a fresh random host id.
func NewHostID() HostID {
	return HostID(uuid.NewString())
}

// Identity is the self-declared name and avatar a host presents to its peers.
type Identity struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

func NewIdentity(name, avatar string) (*Identity, error) {
	id := &Identity{}
	if err := id.SetName(name); err != nil {
		return nil, err
	}
	if err := id.SetAvatar(avatar); err != nil {
		return nil, err
	}
	return id, nil
}

func (i *Identity) SetName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	i.Name = name
	return nil
}

func (i *Identity) SetAvatar(avatar string) error {
	if len(avatar) > MaxAvatarLen {
		return ErrAvatarTooLong
	}
	i.Avatar = avatar
	return nil
}
