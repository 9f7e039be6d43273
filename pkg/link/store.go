package link

import (
	"context"
	"fmt"
	"strconv"
)

// Kind is the value type carried by an Entry.
type Kind int

const (
	// KindUnset marks an entry the peer has never written.
	KindUnset Kind = iota
	KindNumber
	KindBoolean
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindUnset:
		return "unset"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Entry is one key-value pair in the remote store.
type Entry struct {
	Key    string
	Kind   Kind
	Number float64
	Flag   bool
	Text   string
}

func Number(key string, v float64) Entry { return Entry{Key: key, Kind: KindNumber, Number: v} }
func Bool(key string, v bool) Entry      { return Entry{Key: key, Kind: KindBoolean, Flag: v} }
func String(key, v string) Entry         { return Entry{Key: key, Kind: KindString, Text: v} }

func (e Entry) String() string {
	switch e.Kind {
	case KindNumber:
		return fmt.Sprintf("%s=%g", e.Key, e.Number)
	case KindBoolean:
		return fmt.Sprintf("%s=%t", e.Key, e.Flag)
	case KindString:
		return fmt.Sprintf("%s=%q", e.Key, e.Text)
	default:
		return e.Key + "=<unset>"
	}
}

// Store is the remote key-value table shared with the robot.
//
// Start blocks until the peer answers or ctx ends. Put may be fire-and-forget;
// PutAll is applied as one acknowledged batch. Every call other than Start
// must return within a bounded request timeout. GetNumber reports a key the
// peer has never written with an error wrapping ErrKeyNotFound.
type Store interface {
	Start(ctx context.Context, address string) error
	Stop() error
	IsConnected() bool
	Put(e Entry) error
	PutAll(entries ...Entry) error
	GetNumber(key string) (float64, error)
}
