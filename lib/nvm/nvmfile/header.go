// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package nvmfile

import (
	"bytes"
	"errors"
	"fmt"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/google/uuid"

	"git.lukeshu.com/ox-ftl-ng/lib/binstruct"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

const headerSize = 4096

var headerMagic = [8]byte{'O', 'X', 'N', 'V', 'M', 'I', 'M', 'G'}

// headerPrefix precedes the JSON body of a Header.
type headerPrefix struct {
	Magic   [8]byte         `bin:"off=0x0, siz=0x8"`
	BodyLen binstruct.U32be `bin:"off=0x8, siz=0x4"`

	binstruct.End `bin:"off=0xc"`
}

var headerLen = binstruct.StaticSize(headerPrefix{})

var ErrBadHeader = errors.New("nvmfile: not a medium image")

// Header describes a medium image.  It is stored as JSON after a
// headerPrefix, and occupies the first headerSize bytes of the image.
type Header struct {
	UUID      uuid.UUID    `json:"uuid"`
	Geometry  nvm.Geometry `json:"geometry"`
	NChannels int          `json:"channels"`
}

func (h Header) MarshalImage() ([]byte, error) {
	var body bytes.Buffer
	if err := lowmemjson.Encode(&body, h); err != nil {
		return nil, err
	}
	if headerLen+body.Len() > headerSize {
		return nil, fmt.Errorf("nvmfile: header body is %dB, does not fit in %dB", body.Len(), headerSize-headerLen)
	}
	prefix, err := binstruct.Marshal(headerPrefix{
		Magic:   headerMagic,
		BodyLen: binstruct.U32be(body.Len()),
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerSize)
	copy(out, prefix)
	copy(out[headerLen:], body.Bytes())
	return out, nil
}

func (h *Header) UnmarshalImage(dat []byte) error {
	var prefix headerPrefix
	if _, err := binstruct.Unmarshal(dat, &prefix); err != nil || prefix.Magic != headerMagic {
		return ErrBadHeader
	}
	n := int(prefix.BodyLen)
	if headerLen+n > len(dat) {
		return fmt.Errorf("%w: body length %d overruns header", ErrBadHeader, n)
	}
	if err := lowmemjson.DecodeThenEOF(bytes.NewReader(dat[headerLen:headerLen+n]), h); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if err := h.Geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.NChannels <= 0 || h.NChannels > nvm.MaxChannels {
		return fmt.Errorf("%w: channels=%d", ErrBadHeader, h.NChannels)
	}
	return nil
}
