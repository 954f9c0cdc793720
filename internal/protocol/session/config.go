package session

import (
	"github.com/danmuck/replack/internal/protocol/frame"
	"github.com/danmuck/replack/internal/protocol/osd"
	"github.com/danmuck/replack/internal/protocol/wire"
)

// Config is the per-endpoint codec setup.
type Config struct {
	Source osd.EntityName
	Frame  frame.Limits
	Codec  wire.Limits
}

func DefaultConfig() Config {
	return Config{
		Source: osd.OSDEntity(0),
		Frame:  frame.DefaultLimits(),
		Codec:  wire.DefaultLimits(),
	}
}
