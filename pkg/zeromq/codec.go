package zeromq

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/open-teleop/driverstation/pkg/flatbuffers/driverstation/kv"
	"github.com/open-teleop/driverstation/pkg/link"
)

var ErrInvalidMessage = errors.New("invalid message format")

// minFrameSize is a root offset plus the smallest possible vtable reference.
const minFrameSize = 8

// Frame is the decoded form of a kv.Message.
type Frame struct {
	Seq     uint32
	Op      kv.Op
	Entries []link.Entry
	Error   string
}

// Encode serializes f as a kv.Message FlatBuffer.
func Encode(f Frame) []byte {
	builder := flatbuffers.NewBuilder(64 + 48*len(f.Entries))

	offsets := make([]flatbuffers.UOffsetT, len(f.Entries))
	for i, e := range f.Entries {
		key := builder.CreateString(e.Key)
		var text flatbuffers.UOffsetT
		if e.Kind == link.KindString {
			text = builder.CreateString(e.Text)
		}
		kv.EntryStart(builder)
		kv.EntryAddKey(builder, key)
		kv.EntryAddKind(builder, toWireKind(e.Kind))
		switch e.Kind {
		case link.KindNumber:
			kv.EntryAddNumber(builder, e.Number)
		case link.KindBoolean:
			kv.EntryAddFlag(builder, e.Flag)
		case link.KindString:
			kv.EntryAddText(builder, text)
		}
		offsets[i] = kv.EntryEnd(builder)
	}

	var entries flatbuffers.UOffsetT
	if len(offsets) > 0 {
		kv.MessageStartEntriesVector(builder, len(offsets))
		for i := len(offsets) - 1; i >= 0; i-- {
			builder.PrependUOffsetT(offsets[i])
		}
		entries = builder.EndVector(len(offsets))
	}
	var errMsg flatbuffers.UOffsetT
	if f.Error != "" {
		errMsg = builder.CreateString(f.Error)
	}

	kv.MessageStart(builder)
	kv.MessageAddSeq(builder, f.Seq)
	kv.MessageAddOp(builder, f.Op)
	if len(offsets) > 0 {
		kv.MessageAddEntries(builder, entries)
	}
	if f.Error != "" {
		kv.MessageAddError(builder, errMsg)
	}
	builder.Finish(kv.MessageEnd(builder))
	return builder.FinishedBytes()
}

// Decode parses a kv.Message. Truncated or corrupt input yields
// ErrInvalidMessage; the FlatBuffers accessors panic on out-of-range
// offsets, so those panics are turned into errors here.
func Decode(data []byte) (f Frame, err error) {
	if len(data) < minFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrInvalidMessage, len(data))
	}
	defer func() {
		if r := recover(); r != nil {
			f = Frame{}
			err = fmt.Errorf("%w: %v", ErrInvalidMessage, r)
		}
	}()

	msg := kv.GetRootAsMessage(data, 0)
	f.Seq = msg.Seq()
	f.Op = msg.Op()
	if _, ok := kv.EnumNamesOp[f.Op]; !ok {
		return Frame{}, fmt.Errorf("%w: unknown op %d", ErrInvalidMessage, int8(f.Op))
	}
	f.Error = string(msg.Error())

	n := msg.EntriesLength()
	if n > 0 {
		f.Entries = make([]link.Entry, 0, n)
	}
	var e kv.Entry
	for i := 0; i < n; i++ {
		if !msg.Entries(&e, i) {
			return Frame{}, fmt.Errorf("%w: entry %d missing", ErrInvalidMessage, i)
		}
		entry := link.Entry{Key: string(e.Key())}
		switch e.Kind() {
		case kv.KindNone:
		case kv.KindNumber:
			entry.Kind = link.KindNumber
			entry.Number = e.Number()
		case kv.KindBoolean:
			entry.Kind = link.KindBoolean
			entry.Flag = e.Flag()
		case kv.KindString:
			entry.Kind = link.KindString
			entry.Text = string(e.Text())
		default:
			return Frame{}, fmt.Errorf("%w: entry %d has unknown kind %d", ErrInvalidMessage, i, int8(e.Kind()))
		}
		f.Entries = append(f.Entries, entry)
	}
	return f, nil
}

func toWireKind(k link.Kind) kv.Kind {
	switch k {
	case link.KindNumber:
		return kv.KindNumber
	case link.KindBoolean:
		return kv.KindBoolean
	case link.KindString:
		return kv.KindString
	default:
		return kv.KindNone
	}
}
