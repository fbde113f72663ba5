package gossip

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/loykin/fleetsup/internal/crypto"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("gossip: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 16}.DecMode()
	if err != nil {
		panic("gossip: CBOR decoder initialization failed: " + err.Error())
	}
}

var (
	// ErrRingMismatch is returned when a frame's sealing does not match the local ring key.
	ErrRingMismatch = errors.New("gossip: ring key mismatch")
)

// frame is the unit written on both transports.
type frame struct {
	_       struct{} `cbor:",toarray"`
	Sealed  bool
	Payload []byte
}

// Envelope is a full-state push from one member.
type Envelope struct {
	From      string          `cbor:"1,keyasint"`
	Members   []MemberState   `cbor:"2,keyasint,omitempty"`
	Services  []ServiceRumor  `cbor:"3,keyasint,omitempty"`
	Elections []ElectionRumor `cbor:"4,keyasint,omitempty"`
}

type MemberState struct {
	Member Member `cbor:"1,keyasint"`
	Health Health `cbor:"2,keyasint"`
}

type probeKind int

const (
	probePing probeKind = iota + 1
	probeAck
)

// probe is the swim ping/ack datagram.
type probe struct {
	Kind probeKind `cbor:"1,keyasint"`
	From Member    `cbor:"2,keyasint"`
}

// seal encodes v and wraps it in a frame, encrypted when key is set.
func seal(key *crypto.SymKey, v any) (frame, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return frame{}, err
	}
	if key == nil {
		return frame{Payload: b}, nil
	}
	enc, err := key.Encrypt(b)
	if err != nil {
		return frame{}, err
	}
	return frame{Sealed: true, Payload: enc}, nil
}

// open reverses seal into v.
func open(key *crypto.SymKey, f frame, v any) error {
	if f.Sealed != (key != nil) {
		return ErrRingMismatch
	}
	b := f.Payload
	if key != nil {
		var err error
		if b, err = key.Decrypt(f.Payload); err != nil {
			return fmt.Errorf("%w: %v", ErrRingMismatch, err)
		}
	}
	return decMode.Unmarshal(b, v)
}

func marshalFrame(f frame) ([]byte, error) { return encMode.Marshal(f) }

func unmarshalFrame(b []byte) (frame, error) {
	var f frame
	err := decMode.Unmarshal(b, &f)
	return f, err
}
