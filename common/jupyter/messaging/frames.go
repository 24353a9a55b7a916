package messaging

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"
)

const (
	JupyterSignatureScheme = "hmac-sha256"
)

const (
	JupyterFrameStart int = iota
	JupyterFrameSignature
	JupyterFrameHeader
	JupyterFrameParentHeader
	JupyterFrameMetadata
	JupyterFrameContent
	JupyterFrameBuffers
)

var (
	JupyterFrameIDSMSG = []byte("<IDS|MSG>")
	JupyterFrameEmpty  = []byte("{}")
)

// Frames provides a simple way to access the frames of a Jupyter message, starting from the "<IDS|MSG>" delimiter.
// 0: <IDS|MSG>, 1: Signature, 2: Header, 3: ParentHeader, 4: Metadata, 5: Content[, 6...: Buffers]
type Frames [][]byte

func NewFrames() Frames {
	frames := make(Frames, JupyterFrameContent+1, JupyterFrameBuffers+1)
	frames[JupyterFrameStart] = JupyterFrameIDSMSG
	frames[JupyterFrameSignature] = []byte{}
	frames[JupyterFrameHeader] = JupyterFrameEmpty
	frames[JupyterFrameParentHeader] = JupyterFrameEmpty
	frames[JupyterFrameMetadata] = JupyterFrameEmpty
	frames[JupyterFrameContent] = JupyterFrameEmpty
	return frames
}

// SkipIdentities returns the Jupyter frames of a raw ZMQ message and the offset at which they begin.
// Any frames ahead of "<IDS|MSG>" are routing identities (or the topic, for IOPub).
func SkipIdentities(raw [][]byte) (Frames, int) {
	i := 0
	for i < len(raw) && !bytes.Equal(raw[i], JupyterFrameIDSMSG) {
		i++
	}
	return Frames(raw[i:]), i
}

func (frames Frames) String() string {
	if len(frames) == 0 {
		return "[]"
	}

	var b bytes.Buffer
	b.WriteString("[")
	for i, frame := range frames {
		b.WriteString("\"")
		b.Write(frame)
		b.WriteString("\"")
		if i+1 < len(frames) {
			b.WriteString(", ")
		}
	}
	b.WriteString("]")

	return b.String()
}

func (frames Frames) Validate() error {
	if len(frames) <= JupyterFrameContent || !bytes.Equal(frames[JupyterFrameStart], JupyterFrameIDSMSG) {
		return ErrInvalidJupyterMessage
	}
	return nil
}

// Sign writes the signature frame. An empty key disables authentication, as in Jupyter.
func (frames Frames) Sign(signatureScheme string, key []byte) error {
	if len(key) == 0 {
		frames[JupyterFrameSignature] = []byte{}
		return nil
	} else if signatureScheme != JupyterSignatureScheme {
		return ErrNotSupportedSignatureScheme
	}

	signature := frames.sign(key)
	encoded := make([]byte, hex.EncodedLen(len(signature)))
	hex.Encode(encoded, signature)
	frames[JupyterFrameSignature] = encoded
	return nil
}

func (frames Frames) Verify(signatureScheme string, key []byte) error {
	if err := frames.Validate(); err != nil {
		return err
	} else if len(key) == 0 {
		return nil
	} else if signatureScheme != JupyterSignatureScheme {
		return ErrNotSupportedSignatureScheme
	}

	signature := make([]byte, hex.DecodedLen(len(frames[JupyterFrameSignature])))
	if _, err := hex.Decode(signature, frames[JupyterFrameSignature]); err != nil {
		return ErrInvalidJupyterSignature
	}
	if !hmac.Equal(frames.sign(key), signature) {
		return ErrInvalidJupyterSignature
	}
	return nil
}

func (frames Frames) sign(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, part := range frames[JupyterFrameHeader : JupyterFrameContent+1] {
		mac.Write(part)
	}
	return mac.Sum(nil)
}

// EncodeMessage serializes and signs a message, prefixing any routing identities.
func EncodeMessage(msg *Message, identities [][]byte, signatureScheme string, key []byte) ([][]byte, error) {
	frames := NewFrames()

	var err error
	if frames[JupyterFrameHeader], err = json.Marshal(&msg.Header); err != nil {
		return nil, err
	}
	if !msg.ParentHeader.IsEmpty() {
		if frames[JupyterFrameParentHeader], err = json.Marshal(&msg.ParentHeader); err != nil {
			return nil, err
		}
	}
	if len(msg.Metadata) > 0 {
		if frames[JupyterFrameMetadata], err = json.Marshal(msg.Metadata); err != nil {
			return nil, err
		}
	}
	if len(msg.Content) > 0 {
		frames[JupyterFrameContent] = msg.Content
	}
	frames = append(frames, msg.Buffers...)

	if err := frames.Sign(signatureScheme, key); err != nil {
		return nil, err
	}

	raw := make([][]byte, 0, len(identities)+len(frames))
	raw = append(raw, identities...)
	return append(raw, frames...), nil
}

// DecodeMessage verifies and deserializes a raw ZMQ message. The routing identities are returned separately.
func DecodeMessage(raw [][]byte, signatureScheme string, key []byte) (*Message, [][]byte, error) {
	frames, offset := SkipIdentities(raw)
	if err := frames.Verify(signatureScheme, key); err != nil {
		return nil, nil, err
	}

	msg := &Message{}
	if err := json.Unmarshal(frames[JupyterFrameHeader], &msg.Header); err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(frames[JupyterFrameParentHeader], &msg.ParentHeader); err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(frames[JupyterFrameMetadata], &msg.Metadata); err != nil {
		return nil, nil, err
	}
	msg.Content = json.RawMessage(frames[JupyterFrameContent])
	if len(frames) > JupyterFrameBuffers {
		msg.Buffers = frames[JupyterFrameBuffers:]
	}

	return msg, raw[:offset], nil
}
