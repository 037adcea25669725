// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package nvmfile emulates an open-channel NAND medium on top of a
// plain file (or memory).
//
// The emulation enforces the NAND rules that an FTL has to respect:
// erased pages read back as all-0xFF, a page cannot be programmed
// twice without an intervening erase of its block, and erase works on
// a whole (lun, block, plane).
package nvmfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"

	"git.lukeshu.com/ox-ftl-ng/lib/diskio"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
)

// ImageAddr is a byte offset within a medium image.
type ImageAddr int64

var (
	ErrProgrammed = errors.New("nvmfile: page already programmed")
	ErrAddress    = errors.New("nvmfile: address out of range")
	ErrShortBuf   = errors.New("nvmfile: buffer too small for page")
)

// FailFunc is consulted before every submission; a non-nil return
// fails the command without touching the medium.
type FailFunc func(ch uint16, cmd *nvm.MmgrCmd, op nvm.Opcode) error

type Stats struct {
	Reads  int64
	Writes int64
	Erases int64
	Fails  int64
}

type Medium struct {
	hdr  Header
	file diskio.File[ImageAddr]

	// mu serializes the check-then-program of a page.
	mu sync.Mutex

	failMu   sync.RWMutex
	failFunc FailFunc

	reads, writes, erases, fails atomic.Int64

	channels []*channel
}

func (h Header) slotSize() int64 {
	return int64(h.Geometry.PageSize() + h.Geometry.MetaSize())
}

func (h Header) channelSize() int64 {
	g := h.Geometry
	return int64(g.LUNsPerChannel) * int64(g.BlocksPerLUN) * int64(g.PlanesPerBlock) *
		int64(g.PagesPerBlock) * h.slotSize()
}

func (h Header) imageSize() ImageAddr {
	return ImageAddr(headerSize + int64(h.NChannels)*h.channelSize())
}

func newMedium(hdr Header, file diskio.File[ImageAddr]) *Medium {
	m := &Medium{
		hdr:  hdr,
		file: file,
	}
	m.channels = make([]*channel, hdr.NChannels)
	for i := range m.channels {
		m.channels[i] = &channel{
			medium: m,
			id:     uint16(i),
		}
	}
	return m
}

func format(ctx context.Context, file diskio.File[ImageAddr], hdr Header) error {
	dat, err := hdr.MarshalImage()
	if err != nil {
		return err
	}
	if err := diskio.WriteFull(file, dat, 0); err != nil {
		return err
	}
	erased := bytes.Repeat([]byte{0xFF}, int(hdr.Geometry.PagesPerBlock)*int(hdr.slotSize()))
	for off := ImageAddr(headerSize); off < hdr.imageSize(); off += ImageAddr(len(erased)) {
		if err := diskio.WriteFull(file, erased, off); err != nil {
			return err
		}
	}
	dlog.Infof(ctx, "formatted medium %v: %d channel(s) of %v", hdr.UUID, hdr.NChannels, hdr.Geometry)
	return nil
}

func newHeader(geom nvm.Geometry, nch int) (Header, error) {
	hdr := Header{
		UUID:      uuid.New(),
		Geometry:  geom,
		NChannels: nch,
	}
	if err := geom.Validate(); err != nil {
		return Header{}, err
	}
	if nch <= 0 || nch > nvm.MaxChannels {
		return Header{}, fmt.Errorf("nvmfile: channels=%d out of range [1, %d]", nch, nvm.MaxChannels)
	}
	return hdr, nil
}

// NewMemory returns a freshly erased medium held in memory.
func NewMemory(ctx context.Context, geom nvm.Geometry, nch int) (*Medium, error) {
	hdr, err := newHeader(geom, nch)
	if err != nil {
		return nil, err
	}
	file := diskio.NewMemFile[ImageAddr](hdr.UUID.String(), hdr.imageSize())
	if err := format(ctx, file, hdr); err != nil {
		return nil, err
	}
	return newMedium(hdr, file), nil
}

// Create formats a new medium image at filename, which must not
// already exist.
func Create(ctx context.Context, filename string, geom nvm.Geometry, nch int) (*Medium, error) {
	hdr, err := newHeader(geom, nch)
	if err != nil {
		return nil, err
	}
	file, err := diskio.OpenOSFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, hdr.imageSize())
	if err != nil {
		return nil, err
	}
	if err := format(ctx, file, hdr); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return newMedium(hdr, file), nil
}

func Open(ctx context.Context, filename string, flag int) (*Medium, error) {
	file, err := diskio.OpenOSFile[ImageAddr](filename, flag&^os.O_CREATE, 0)
	if err != nil {
		return nil, err
	}
	m, err := openFile(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	dlog.Debugf(ctx, "opened medium %v: %d channel(s) of %v", m.hdr.UUID, m.hdr.NChannels, m.hdr.Geometry)
	return m, nil
}

func openFile(file diskio.File[ImageAddr]) (*Medium, error) {
	dat := make([]byte, headerSize)
	if err := diskio.ReadFull(file, dat, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	var hdr Header
	if err := hdr.UnmarshalImage(dat); err != nil {
		return nil, err
	}
	if size := file.Size(); size < hdr.imageSize() {
		return nil, fmt.Errorf("%w: image is %d bytes, header describes %d", ErrBadHeader, size, hdr.imageSize())
	}
	return newMedium(hdr, file), nil
}

func (m *Medium) Header() Header          { return m.hdr }
func (m *Medium) Geometry() *nvm.Geometry { return &m.hdr.Geometry }
func (m *Medium) NumChannels() int        { return len(m.channels) }

func (m *Medium) Channel(i int) nvm.Channel {
	if i < 0 || i >= len(m.channels) {
		return nil
	}
	return m.channels[i]
}

func (m *Medium) SetFailFunc(fn FailFunc) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	m.failFunc = fn
}

func (m *Medium) Stats() Stats {
	return Stats{
		Reads:  m.reads.Load(),
		Writes: m.writes.Load(),
		Erases: m.erases.Load(),
		Fails:  m.fails.Load(),
	}
}

func (m *Medium) Close() error {
	var errs derror.MultiError
	if err := m.file.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := m.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// slotAddr is the image offset of page pg of (lun, blk, pl) on
// channel ch.  Pages of one plane-block are contiguous.
func (m *Medium) slotAddr(ch uint16, ppa nvm.PPA) ImageAddr {
	g := &m.hdr.Geometry
	idx := ((int64(ppa.LUN)*int64(g.BlocksPerLUN)+int64(ppa.Blk))*int64(g.PlanesPerBlock)+int64(ppa.Pl))*int64(g.PagesPerBlock) +
		int64(ppa.Pg)
	return ImageAddr(headerSize + int64(ch)*m.hdr.channelSize() + idx*m.hdr.slotSize())
}

func (m *Medium) checkAddr(ch uint16, ppa nvm.PPA) error {
	g := &m.hdr.Geometry
	if int(ch) >= len(m.channels) || int(ppa.Ch) != int(ch) ||
		int(ppa.LUN) >= g.LUNsPerChannel ||
		int(ppa.Blk) >= g.BlocksPerLUN ||
		int(ppa.Pl) >= g.PlanesPerBlock ||
		int(ppa.Pg) >= g.PagesPerBlock {
		return fmt.Errorf("%w: ch%d: %v", ErrAddress, ch, ppa)
	}
	return nil
}

func (m *Medium) submit(ctx context.Context, ch uint16, cmd *nvm.MmgrCmd, buf []byte, op nvm.Opcode) error {
	cmd.Status = nvm.IOProcess
	err := m.do(ctx, ch, cmd, buf, op)
	if err != nil {
		m.fails.Add(1)
		cmd.Status = nvm.IOFail
		cmd.Err = err
		return err
	}
	cmd.Status = nvm.IOSuccess
	cmd.Err = nil
	return nil
}

func (m *Medium) do(ctx context.Context, ch uint16, cmd *nvm.MmgrCmd, buf []byte, op nvm.Opcode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.checkAddr(ch, cmd.PPA); err != nil {
		return err
	}
	m.failMu.RLock()
	fail := m.failFunc
	m.failMu.RUnlock()
	if fail != nil {
		if err := fail(ch, cmd, op); err != nil {
			return err
		}
	}

	slot := int(m.hdr.slotSize())
	addr := m.slotAddr(ch, cmd.PPA)
	switch op {
	case nvm.OpRead:
		m.reads.Add(1)
		if len(buf) < slot {
			return fmt.Errorf("%w: %d < %d", ErrShortBuf, len(buf), slot)
		}
		return diskio.ReadFull(m.file, buf[:slot], addr)
	case nvm.OpWrite:
		m.writes.Add(1)
		if len(buf) < slot {
			return fmt.Errorf("%w: %d < %d", ErrShortBuf, len(buf), slot)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		cur := make([]byte, slot)
		if err := diskio.ReadFull(m.file, cur, addr); err != nil {
			return err
		}
		if !erased(cur) {
			return fmt.Errorf("%w: ch%d: %v", ErrProgrammed, ch, cmd.PPA)
		}
		return diskio.WriteFull(m.file, buf[:slot], addr)
	case nvm.OpErase:
		m.erases.Add(1)
		blk := cmd.PPA
		blk.Pg = 0
		m.mu.Lock()
		defer m.mu.Unlock()
		return diskio.WriteFull(m.file, bytes.Repeat([]byte{0xFF}, m.hdr.Geometry.PagesPerBlock*slot), m.slotAddr(ch, blk))
	default:
		return fmt.Errorf("nvmfile: unknown opcode %v", op)
	}
}

func erased(dat []byte) bool {
	for _, b := range dat {
		if b != 0xFF {
			return false
		}
	}
	return true
}

type channel struct {
	medium *Medium
	id     uint16
}

var _ nvm.Channel = (*channel)(nil)

func (ch *channel) ID() uint16              { return ch.id }
func (ch *channel) Geometry() *nvm.Geometry { return &ch.medium.hdr.Geometry }

func (ch *channel) SubmitSync(ctx context.Context, cmd *nvm.MmgrCmd, buf []byte, op nvm.Opcode) error {
	return ch.medium.submit(ctx, ch.id, cmd, buf, op)
}
