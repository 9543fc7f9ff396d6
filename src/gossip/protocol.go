package gossip

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/mosaicnetworks/hashgossip/src/hashgraph"
)

const (
	// CommTips starts the tip summary.
	CommTips byte = 0x4c
	// CommEventNext precedes every event frame.
	CommEventNext byte = 0x4a
	// CommEventDone ends the event stream.
	CommEventDone byte = 0x4b

	// MaxEventSize bounds a single encoded event.
	MaxEventSize = 4 * 1024 * 1024
	// MaxTips bounds the number of tips in a summary.
	MaxTips = 1 << 16

	maxHashLength = 256
)

// TipSummary is what each side sends first: its window thresholds and the
// latest non-ancient event of every creator it knows.
type TipSummary struct {
	AncientThreshold int64
	ExpiredThreshold int64
	Tips             []hashgraph.EventDescriptor
}

// WriteTips encodes a summary.
//
//	[CommTips][ancient int64][expired int64][n uint32]
//	n x [creator uint32][generation int64][birthRound int64][hashLen uint16][hash]
func WriteTips(w io.Writer, s TipSummary) error {
	if len(s.Tips) > MaxTips {
		return errors.Errorf("too many tips: %d", len(s.Tips))
	}

	b := make([]byte, 0, 21+len(s.Tips)*64)
	b = append(b, CommTips)
	b = binary.BigEndian.AppendUint64(b, uint64(s.AncientThreshold))
	b = binary.BigEndian.AppendUint64(b, uint64(s.ExpiredThreshold))
	b = binary.BigEndian.AppendUint32(b, uint32(len(s.Tips)))

	for _, t := range s.Tips {
		if len(t.Hash) > maxHashLength {
			return errors.Errorf("tip hash too long: %d", len(t.Hash))
		}
		b = binary.BigEndian.AppendUint32(b, t.Creator)
		b = binary.BigEndian.AppendUint64(b, uint64(t.Generation))
		b = binary.BigEndian.AppendUint64(b, uint64(t.BirthRound))
		b = binary.BigEndian.AppendUint16(b, uint16(len(t.Hash)))
		b = append(b, t.Hash...)
	}

	if _, err := w.Write(b); err != nil {
		return errors.Wrap(err, "writing tips")
	}
	return nil
}

// ReadTips decodes a summary written by WriteTips.
func ReadTips(r io.Reader) (TipSummary, error) {
	var s TipSummary

	var head [21]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return s, errors.Wrap(err, "reading tips header")
	}
	if head[0] != CommTips {
		return s, errors.Errorf("expected tips marker, got 0x%x", head[0])
	}

	s.AncientThreshold = int64(binary.BigEndian.Uint64(head[1:9]))
	s.ExpiredThreshold = int64(binary.BigEndian.Uint64(head[9:17]))
	n := binary.BigEndian.Uint32(head[17:21])
	if n > MaxTips {
		return s, errors.Errorf("too many tips: %d", n)
	}

	s.Tips = make([]hashgraph.EventDescriptor, 0, n)
	for i := uint32(0); i < n; i++ {
		var fixed [22]byte
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return s, errors.Wrap(err, "reading tip")
		}

		hashLen := binary.BigEndian.Uint16(fixed[20:22])
		if hashLen > maxHashLength {
			return s, errors.Errorf("tip hash too long: %d", hashLen)
		}
		hash := make([]byte, hashLen)
		if _, err := io.ReadFull(r, hash); err != nil {
			return s, errors.Wrap(err, "reading tip hash")
		}

		s.Tips = append(s.Tips, hashgraph.EventDescriptor{
			Creator:    binary.BigEndian.Uint32(fixed[0:4]),
			Generation: int64(binary.BigEndian.Uint64(fixed[4:12])),
			BirthRound: int64(binary.BigEndian.Uint64(fixed[12:20])),
			Hash:       string(hash),
		})
	}

	return s, nil
}

// WriteEvent frames one event.
//
//	[CommEventNext][len uint32][msgpack event]
func WriteEvent(w io.Writer, e *hashgraph.Event) error {
	data, err := e.Marshal()
	if err != nil {
		return errors.Wrapf(err, "encoding event %s", e)
	}
	if len(data) > MaxEventSize {
		return errors.Errorf("event %s too large: %d bytes", e, len(data))
	}

	var head [5]byte
	head[0] = CommEventNext
	binary.BigEndian.PutUint32(head[1:], uint32(len(data)))

	if _, err := w.Write(head[:]); err != nil {
		return errors.Wrap(err, "writing event header")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "writing event")
	}
	return nil
}

// WriteDone ends an event stream.
func WriteDone(w io.Writer) error {
	if _, err := w.Write([]byte{CommEventDone}); err != nil {
		return errors.Wrap(err, "writing end of events")
	}
	return nil
}

// ReadEvents decodes frames until CommEventDone and calls fn for every event.
// It stops at the first error returned by fn.
func ReadEvents(r io.Reader, fn func(*hashgraph.Event) error) (int, error) {
	count := 0
	var marker [1]byte

	for {
		if _, err := io.ReadFull(r, marker[:]); err != nil {
			return count, errors.Wrap(err, "reading event marker")
		}

		switch marker[0] {
		case CommEventDone:
			return count, nil
		case CommEventNext:
		default:
			return count, errors.Errorf("unexpected event marker 0x%x", marker[0])
		}

		var l [4]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return count, errors.Wrap(err, "reading event length")
		}
		n := binary.BigEndian.Uint32(l[:])
		if n == 0 || n > MaxEventSize {
			return count, errors.Errorf("invalid event length %d", n)
		}

		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return count, errors.Wrap(err, "reading event")
		}

		e, err := hashgraph.UnmarshalEvent(data)
		if err != nil {
			return count, errors.Wrap(err, "decoding event")
		}

		count++
		if err := fn(e); err != nil {
			return count, err
		}
	}
}
