package hashgraph

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/mosaicnetworks/hashgossip/src/common"
	"github.com/mosaicnetworks/hashgossip/src/crypto"
	"github.com/mosaicnetworks/hashgossip/src/crypto/keys"
	"github.com/mosaicnetworks/hashgossip/src/version"
	"github.com/ugorji/go/codec"
)

// msgpackHandle is shared by all encoders. Canonical mode sorts map keys so
// that the same body always produces the same bytes, and therefore the same
// hash, on every node.
var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	mh := new(codec.MsgpackHandle)
	mh.Canonical = true
	mh.WriteExt = true
	mh.RawToString = false
	return mh
}

/*******************************************************************************
EventBody
*******************************************************************************/

// EventBody contains the payload of an Event as well as the information that
// ties it to other Events. It is the hashed and signed portion of an Event.
type EventBody struct {
	Creator         uint32
	SelfParent      *EventDescriptor  //nil for the creator's first event
	OtherParents    []EventDescriptor //one or more for all but genesis events
	Generation      int64
	BirthRound      int64
	Timestamp       int64    //creation time in unix nanoseconds
	Transactions    [][]byte //the payload
	SoftwareVersion version.SoftwareVersion
}

// Marshal returns the canonical msgpack encoding of an EventBody
func (e *EventBody) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := codec.NewEncoder(&b, msgpackHandle)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Hash returns the SHA256 hash of the encoded EventBody.
func (e *EventBody) Hash() ([]byte, error) {
	hashBytes, err := e.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(hashBytes), nil
}

// ComputeGeneration returns one more than the highest parent generation, or
// FirstGeneration when there are no parents.
func ComputeGeneration(selfParent *EventDescriptor, otherParents []EventDescriptor) int64 {
	max := NoGeneration
	if selfParent != nil && selfParent.Generation > max {
		max = selfParent.Generation
	}
	for _, op := range otherParents {
		if op.Generation > max {
			max = op.Generation
		}
	}
	return max + 1
}

/*******************************************************************************
Event
*******************************************************************************/

// Event is the unit of gossip. It is immutable once created or decoded. The
// unexported fields are local bookkeeping and are never serialized.
type Event struct {
	Body      EventBody
	Signature string //creator's signature of the body hash

	hash []byte
	hex  string

	// set on intake
	senderID             uint32
	streamSequenceNumber int64

	// set by consensus and by the stale detector, intake worker only
	reachedConsensus bool
	stale            bool
}

// wireEvent is what goes over the network and into the durable event log.
type wireEvent struct {
	Body      EventBody
	Signature string
}

// NewEvent creates an unsigned event. The generation is derived from the
// parents and the hash is computed immediately, so that the returned Event can
// be shared between goroutines without further writes to the hash cache.
func NewEvent(
	creator uint32,
	selfParent *EventDescriptor,
	otherParents []EventDescriptor,
	birthRound int64,
	timeCreated time.Time,
	transactions [][]byte,
	softwareVersion version.SoftwareVersion,
) (*Event, error) {
	body := EventBody{
		Creator:         creator,
		SelfParent:      selfParent,
		OtherParents:    otherParents,
		Generation:      ComputeGeneration(selfParent, otherParents),
		BirthRound:      birthRound,
		Timestamp:       timeCreated.UnixNano(),
		Transactions:    transactions,
		SoftwareVersion: softwareVersion,
	}

	return NewEventFromBody(body, "")
}

// NewEventFromBody wraps an existing body and signature. The generation stored
// in the body is kept as is, which lets the validator detect inconsistent
// events received from peers.
func NewEventFromBody(body EventBody, signature string) (*Event, error) {
	ev := &Event{
		Body:                 body,
		Signature:            signature,
		streamSequenceNumber: -1,
	}

	if err := ev.computeHash(); err != nil {
		return nil, err
	}

	return ev, nil
}

func (e *Event) computeHash() error {
	hash, err := e.Body.Hash()
	if err != nil {
		return fmt.Errorf("hashing event body: %s", err)
	}
	e.hash = hash
	e.hex = common.EncodeToString(hash)
	return nil
}

// Sign signs the hash of the body with the private key.
func (e *Event) Sign(privKey *ecdsa.PrivateKey) error {
	sig, err := keys.SignHash(privKey, e.hash)
	if err != nil {
		return err
	}
	e.Signature = sig
	return nil
}

// Verify checks the signature against the creator's public key.
func (e *Event) Verify(pub *ecdsa.PublicKey) bool {
	return keys.VerifyHash(pub, e.hash, e.Signature)
}

// Marshal returns the wire encoding of the event.
func (e *Event) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := codec.NewEncoder(&b, msgpackHandle)
	if err := enc.Encode(&wireEvent{Body: e.Body, Signature: e.Signature}); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// UnmarshalEvent decodes the output of Marshal and recomputes the hash from the
// decoded body.
func UnmarshalEvent(data []byte) (*Event, error) {
	var we wireEvent
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	if err := dec.Decode(&we); err != nil {
		return nil, err
	}
	return NewEventFromBody(we.Body, we.Signature)
}

// Hash returns the SHA256 hash of the body.
func (e *Event) Hash() []byte {
	return e.hash
}

// Hex returns the 0X hex encoding of Hash.
func (e *Event) Hex() string {
	return e.hex
}

// Descriptor returns the descriptor other events use to reference this one.
func (e *Event) Descriptor() EventDescriptor {
	return EventDescriptor{
		Hash:       e.hex,
		Creator:    e.Body.Creator,
		Generation: e.Body.Generation,
		BirthRound: e.Body.BirthRound,
	}
}

// Creator ...
func (e *Event) Creator() uint32 {
	return e.Body.Creator
}

// Generation ...
func (e *Event) Generation() int64 {
	return e.Body.Generation
}

// BirthRound ...
func (e *Event) BirthRound() int64 {
	return e.Body.BirthRound
}

// AncientIndicator returns the generation or birth round depending on mode.
func (e *Event) AncientIndicator(mode AncientMode) int64 {
	if mode == BirthRoundThreshold {
		return e.Body.BirthRound
	}
	return e.Body.Generation
}

// TimeCreated ...
func (e *Event) TimeCreated() time.Time {
	return time.Unix(0, e.Body.Timestamp)
}

// SelfParent returns the self-parent descriptor, or nil.
func (e *Event) SelfParent() *EventDescriptor {
	if e.Body.SelfParent == nil || e.Body.SelfParent.IsEmpty() {
		return nil
	}
	return e.Body.SelfParent
}

// OtherParents returns the non-empty other-parent descriptors.
func (e *Event) OtherParents() []EventDescriptor {
	res := make([]EventDescriptor, 0, len(e.Body.OtherParents))
	for _, op := range e.Body.OtherParents {
		if !op.IsEmpty() {
			res = append(res, op)
		}
	}
	return res
}

// Parents returns all non-empty parent descriptors, self-parent first.
func (e *Event) Parents() []EventDescriptor {
	res := []EventDescriptor{}
	if sp := e.SelfParent(); sp != nil {
		res = append(res, *sp)
	}
	return append(res, e.OtherParents()...)
}

// Transactions ...
func (e *Event) Transactions() [][]byte {
	return e.Body.Transactions
}

// TransactionBytes is the total size of the payload.
func (e *Event) TransactionBytes() int {
	n := 0
	for _, tx := range e.Body.Transactions {
		n += len(tx)
	}
	return n
}

// SoftwareVersion ...
func (e *Event) SoftwareVersion() version.SoftwareVersion {
	return e.Body.SoftwareVersion
}

// SenderID is the node the event was received from, or the creator for self
// events.
func (e *Event) SenderID() uint32 {
	return e.senderID
}

// SetSenderID ...
func (e *Event) SetSenderID(id uint32) {
	e.senderID = id
}

// StreamSequenceNumber is the position of the event in the durable event log,
// or -1 before it was written.
func (e *Event) StreamSequenceNumber() int64 {
	return e.streamSequenceNumber
}

// SetStreamSequenceNumber ...
func (e *Event) SetStreamSequenceNumber(seq int64) {
	e.streamSequenceNumber = seq
}

// ReachedConsensus ...
func (e *Event) ReachedConsensus() bool {
	return e.reachedConsensus
}

// SetReachedConsensus is called by the consensus engine when the event is
// ordered.
func (e *Event) SetReachedConsensus() {
	e.reachedConsensus = true
}

// IsStale is true for events that became ancient before reaching consensus.
func (e *Event) IsStale() bool {
	return e.stale
}

// MarkStale ...
func (e *Event) MarkStale() {
	e.stale = true
}

func (e *Event) String() string {
	return fmt.Sprintf("%d/%d/%s", e.Body.Creator, e.Body.Generation, shortHash(e.hex))
}

/*******************************************************************************
Sorting
*******************************************************************************/

// ByTopologicalOrder implements sort.Interface for []*Event based on the
// generation. Parents always have a lower generation than their children so
// this is a valid topological order. Ties are broken by creator and hash so
// that every node produces the same order.
type ByTopologicalOrder []*Event

// Len implements the sort.Interface
func (a ByTopologicalOrder) Len() int { return len(a) }

// Swap implements the sort.Interface
func (a ByTopologicalOrder) Swap(i, j int) { a[i], a[j] = a[j], a[i] }

// Less implements the sort.Interface
func (a ByTopologicalOrder) Less(i, j int) bool {
	if a[i].Body.Generation != a[j].Body.Generation {
		return a[i].Body.Generation < a[j].Body.Generation
	}
	if a[i].Body.Creator != a[j].Body.Creator {
		return a[i].Body.Creator < a[j].Body.Creator
	}
	return a[i].hex < a[j].hex
}
