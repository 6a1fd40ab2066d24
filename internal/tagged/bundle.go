// Package tagged implements the bundle naming convention layered over OSC:
// the first element of a tagged bundle is a /bundle_info message whose first
// argument is the bundle's tag, and the remaining elements are its contents.
//
//	[/bundle_info, "nrt_record_request"]
//	[... contents ...]
package tagged

import (
	"errors"
	"fmt"

	"github.com/banshee-data/oscstack/internal/osc"
)

// InfoAddress is the address of the leading message naming a bundle.
const InfoAddress = "/bundle_info"

var (
	ErrEmptyBundle     = errors.New("tagged: empty bundle")
	ErrMalformedTag    = errors.New("tagged: malformed bundle info")
	ErrIndex           = errors.New("tagged: no content at index")
	ErrContentType     = errors.New("tagged: content of unexpected type")
	ErrWrongBundleKind = errors.New("tagged: wrong bundle kind")
	ErrMissingContent  = errors.New("tagged: missing content")
)

// Bundle is a bundle whose purpose is named by Tag. Contents excludes the
// leading info message and may be empty.
type Bundle struct {
	Tag      string
	Contents []osc.Packet
}

// New builds a tagged bundle view directly, mostly for handlers and tests.
func New(tag string, contents ...osc.Packet) Bundle {
	return Bundle{Tag: tag, Contents: contents}
}

// Parse extracts the tag and contents from a raw bundle. It does not look
// inside the contents.
func Parse(b osc.Bundle) (Bundle, error) {
	if len(b.Elements) == 0 {
		return Bundle{}, ErrEmptyBundle
	}
	info, ok := b.Elements[0].(osc.Message)
	if !ok {
		return Bundle{}, fmt.Errorf("%w: first element is not a message", ErrMalformedTag)
	}
	if info.Address != InfoAddress {
		return Bundle{}, fmt.Errorf("%w: expected %s as first message, got %s", ErrMalformedTag, InfoAddress, info.Address)
	}
	if len(info.Arguments) == 0 {
		return Bundle{}, fmt.Errorf("%w: bundle info has no arguments", ErrMalformedTag)
	}
	tag, ok := info.Arguments[0].(osc.String)
	if !ok {
		return Bundle{}, fmt.Errorf("%w: bundle tag is %s, want string", ErrMalformedTag, info.Arguments[0].Kind())
	}
	return Bundle{Tag: string(tag), Contents: b.Elements[1:]}, nil
}

// Len returns the number of content packets.
func (b Bundle) Len() int { return len(b.Contents) }

// Packet returns content i, whichever variant it is.
func (b Bundle) Packet(i int) (osc.Packet, error) {
	if i < 0 || i >= len(b.Contents) {
		return nil, fmt.Errorf("%w: %d of %d in %q", ErrIndex, i, len(b.Contents), b.Tag)
	}
	return b.Contents[i], nil
}

// Message returns content i when it is a message.
func (b Bundle) Message(i int) (osc.Message, error) {
	p, err := b.Packet(i)
	if err != nil {
		return osc.Message{}, err
	}
	msg, ok := p.(osc.Message)
	if !ok {
		return osc.Message{}, fmt.Errorf("%w: content %d of %q is not a message", ErrContentType, i, b.Tag)
	}
	return msg, nil
}

// Bundle returns content i when it is a bundle.
func (b Bundle) Bundle(i int) (osc.Bundle, error) {
	p, err := b.Packet(i)
	if err != nil {
		return osc.Bundle{}, err
	}
	bundle, ok := p.(osc.Bundle)
	if !ok {
		return osc.Bundle{}, fmt.Errorf("%w: content %d of %q is not a bundle", ErrContentType, i, b.Tag)
	}
	return bundle, nil
}
