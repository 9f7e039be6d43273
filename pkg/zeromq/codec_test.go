package zeromq

import (
	"errors"
	"testing"

	"github.com/open-teleop/driverstation/pkg/flatbuffers/driverstation/kv"
	"github.com/open-teleop/driverstation/pkg/link"
)

func TestEncodeDecode(t *testing.T) {
	in := Frame{
		Seq: 42,
		Op:  kv.OpPutAll,
		Entries: []link.Entry{
			link.Bool(link.KeyEnabled, true),
			link.String(link.KeyMode, "auto"),
			link.Number(link.AxisKey(3), -0.25),
			{Key: link.KeyBatteryVoltage},
		},
	}

	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Seq != in.Seq || out.Op != in.Op {
		t.Errorf("Header mismatch: got seq=%d op=%s", out.Seq, out.Op)
	}
	if len(out.Entries) != len(in.Entries) {
		t.Fatalf("Expected %d entries, got %d", len(in.Entries), len(out.Entries))
	}
	for i := range in.Entries {
		if out.Entries[i] != in.Entries[i] {
			t.Errorf("entry %d: expected %v, got %v", i, in.Entries[i], out.Entries[i])
		}
	}
}

func TestDecodeErrorReply(t *testing.T) {
	out, err := Decode(Encode(Frame{Seq: 7, Op: kv.OpError, Error: "key not found"}))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Error != "key not found" || len(out.Entries) != 0 {
		t.Errorf("Unexpected frame %+v", out)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	valid := Encode(Frame{Seq: 1, Op: kv.OpPut, Entries: []link.Entry{link.Number("k", 1)}})

	inputs := map[string][]byte{
		"empty":     nil,
		"short":     {1, 2, 3},
		"truncated": valid[:12],
		"bad root":  {0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0},
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(data); !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("Expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}
