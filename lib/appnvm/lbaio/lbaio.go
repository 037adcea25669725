// Copyright (C) 2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package lbaio turns host LBA commands into physical I/O.
//
// A command is split into sectors, which are queued to one of two
// lines: the write line or the read line.  Each line is drained by
// its own worker, which gathers up to LineSize sectors and submits
// them as one batch once the line is full or no new sector has
// arrived for EmptyWait.
//
// A write batch is placed on freshly provisioned pages, padded out to
// whole multi-plane pages.  Every sector's out-of-band area records
// what it holds (see PutOOB), so that the owner of a page can be
// recovered without the mapping table.  Once the pages are written,
// the mapping table is updated under the GC namespace lock; if any
// update fails, the batch's updates are rolled back.
//
// A read batch is resolved through the mapping table; an LBA that has
// never been written reads as zeroes.
//
// A failed batch is retried up to Retries times.  A command completes
// once every one of its sectors has.
package lbaio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ox-ftl-ng/lib/appnvm"
	"git.lukeshu.com/ox-ftl-ng/lib/binstruct"
	"git.lukeshu.com/ox-ftl-ng/lib/containers"
	"git.lukeshu.com/ox-ftl-ng/lib/nvm"
	"git.lukeshu.com/ox-ftl-ng/lib/textui"
)

const LineSize = 64

var (
	EmptyWait  = textui.Tunable(400 * time.Microsecond)
	Retries    = textui.Tunable(4)
	RetryDelay = textui.Tunable(250 * time.Millisecond)

	DefaultQueueDepth = textui.Tunable(512 * LineSize)
)

var ErrStopped = errors.New("lbaio: not running")

// Out-of-band page types.
const (
	OOBNamespace byte = 0x01
	OOBPadding   byte = 0x02
)

// OOBRecord is what a sector's out-of-band area holds.  For padding
// sectors LBA is nvm.PPAUnmapped.
type OOBRecord struct {
	Type binstruct.U8    `bin:"off=0x0, siz=0x1"`
	LBA  binstruct.U64le `bin:"off=0x1, siz=0x8"`

	binstruct.End `bin:"off=0x9"`
}

// OOBSize is the number of out-of-band bytes each sector needs.
var OOBSize = binstruct.StaticSize(OOBRecord{})

// PutOOB fills a sector's out-of-band area with an OOBRecord.
func PutOOB(oob []byte, typ byte, lba uint64) error {
	dat, err := binstruct.Marshal(OOBRecord{
		Type: binstruct.U8(typ),
		LBA:  binstruct.U64le(lba),
	})
	if err != nil {
		return err
	}
	if len(oob) < len(dat) {
		return fmt.Errorf("lbaio: %dB out-of-band area cannot hold a %dB mapping record", len(oob), len(dat))
	}
	copy(oob, dat)
	return nil
}

// ParseOOB is the inverse of PutOOB.
func ParseOOB(oob []byte) (typ byte, lba uint64, err error) {
	var rec OOBRecord
	if _, err := binstruct.Unmarshal(oob, &rec); err != nil {
		return 0, 0, fmt.Errorf("lbaio: %w", err)
	}
	return byte(rec.Type), uint64(rec.LBA), nil
}

type sector struct {
	cmd *nvm.IOCmd
	idx int
	lba uint64
}

func (sec *sector) data() []byte { return sec.cmd.Data[sec.idx] }

type Stats struct {
	Lines   int64
	Retries int64
	Failed  int64
}

type Submitter struct {
	ftl        *appnvm.FTL
	queueDepth int

	pool containers.SyncPool[*sector]

	lines   atomic.Int64
	retries atomic.Int64
	failed  atomic.Int64

	exitMu sync.Mutex

	// mu guards the lifecycle; Submit holds it for reading while
	// it enqueues.
	mu      sync.RWMutex
	running bool
	done    chan struct{}
	queues  map[nvm.IOOp]chan *sector
	grp     *dgroup.Group
	cancel  context.CancelFunc

	geom    nvm.Geometry
	secPgs  int
	oobSize int
}

var _ appnvm.LBASubmitter = (*Submitter)(nil)

// New returns an LBA submitter whose lines each hold up to
// queueDepth waiting sectors (DefaultQueueDepth if <= 0).
func New(ftl *appnvm.FTL, queueDepth int) *Submitter {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Submitter{
		ftl:        ftl,
		queueDepth: queueDepth,
		pool: containers.SyncPool[*sector]{
			New:   func() *sector { return new(sector) },
			Reset: func(sec *sector) { *sec = sector{} },
		},
	}
}

func (s *Submitter) Stats() Stats {
	return Stats{
		Lines:   s.lines.Load(),
		Retries: s.retries.Load(),
		Failed:  s.failed.Load(),
	}
}

func (s *Submitter) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("lbaio: already running")
	}

	chans := s.ftl.Registry().Channels.GetList()
	if len(chans) == 0 {
		return errors.New("lbaio: no channels")
	}
	geom := *chans[0].Geometry()
	secPgs := geom.SectorsPerPlanePage()
	oobSize := geom.SectorOOBSize
	for _, lch := range chans[1:] {
		g := lch.Geometry()
		if g.SectorSize != geom.SectorSize {
			return fmt.Errorf("lbaio: channel %d has %dB sectors, channel %d has %dB",
				lch.ID(), g.SectorSize, chans[0].ID(), geom.SectorSize)
		}
		secPgs = min(secPgs, g.SectorsPerPlanePage())
		oobSize = min(oobSize, g.SectorOOBSize)
	}
	if oobSize < OOBSize {
		return fmt.Errorf("lbaio: %dB of sector metadata cannot hold a %dB mapping record", oobSize, OOBSize)
	}
	s.geom = geom
	s.secPgs = secPgs
	s.oobSize = oobSize

	s.done = make(chan struct{})
	s.queues = map[nvm.IOOp]chan *sector{
		nvm.IOWrite: make(chan *sector, s.queueDepth),
		nvm.IORead:  make(chan *sector, s.queueDepth),
	}
	// The workers outlive the caller's context; Exit stops them.
	wctx, cancel := context.WithCancel(dcontext.WithoutCancel(ctx))
	s.cancel = cancel
	s.grp = dgroup.NewGroup(wctx, dgroup.GroupConfig{})
	for _, op := range []nvm.IOOp{nvm.IOWrite, nvm.IORead} {
		op, q := op, s.queues[op]
		s.grp.Go(op.String()+"-line", func(ctx context.Context) error {
			s.runLine(ctx, op, q)
			return nil
		})
	}
	s.running = true
	dlog.Infof(ctx, "LBA I/O started: %d sector(s) per page, line of %d", secPgs, LineSize)
	return nil
}

// Exit stops accepting commands, lets the lines finish what is
// already queued and stops the workers.  If ctx is canceled first,
// the remaining sectors fail instead.
func (s *Submitter) Exit(ctx context.Context) {
	s.exitMu.Lock()
	defer s.exitMu.Unlock()

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return
	}
	close(s.done)

	s.mu.Lock()
	s.running = false
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	if err := s.grp.Wait(); err != nil {
		dlog.Errorf(ctx, "LBA I/O: %v", err)
	}
	s.cancel()
	dlog.Infof(ctx, "LBA I/O stopped: %d line(s), %d retried, %d sector(s) failed",
		s.lines.Load(), s.retries.Load(), s.failed.Load())
}

func (s *Submitter) anyActive() bool {
	for _, lch := range s.ftl.Registry().Channels.GetList() {
		if lch.Active() {
			return true
		}
	}
	return false
}

// Submit queues every sector of cmd.  If no sector could be queued
// Submit returns an error and cmd.Complete is not called; otherwise
// Submit returns nil and cmd.Complete reports the outcome.
func (s *Submitter) Submit(ctx context.Context, cmd *nvm.IOCmd) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return ErrStopped
	}
	if err := cmd.Validate(&s.geom); err != nil {
		return fmt.Errorf("%w: %w", appnvm.ErrInvalid, err)
	}
	if cmd.Op != nvm.IORead && cmd.Op != nvm.IOWrite {
		return fmt.Errorf("%w: %v", appnvm.ErrInvalid, cmd.Op)
	}
	if !s.anyActive() {
		return fmt.Errorf("%w: no active channel", appnvm.ErrNoChannel)
	}

	q := s.queues[cmd.Op]
	cmd.Arm()
	for i := 0; i < cmd.NSec; i++ {
		sec, _ := s.pool.Get()
		*sec = sector{cmd: cmd, idx: i, lba: cmd.SLBA + uint64(i)}
		var err error
		select {
		case q <- sec:
		case <-s.done:
			err = ErrStopped
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			s.pool.Put(sec)
			if i == 0 {
				return err
			}
			for ; i < cmd.NSec; i++ {
				cmd.SectorDone(err)
			}
			return nil
		}
	}
	return nil
}

func (s *Submitter) runLine(ctx context.Context, op nvm.IOOp, q <-chan *sector) {
	line := make([]*sector, 0, LineSize)
	timer := time.NewTimer(EmptyWait)
	timer.Stop()
	for {
		var wait <-chan time.Time
		if len(line) > 0 {
			timer.Reset(EmptyWait)
			wait = timer.C
		}
		select {
		case <-ctx.Done():
			s.finish(line, ctx.Err())
			for sec := range q {
				s.finish([]*sector{sec}, ctx.Err())
			}
			return
		case sec, ok := <-q:
			if !ok {
				s.process(ctx, op, line)
				return
			}
			line = append(line, sec)
			if len(line) == LineSize {
				s.process(ctx, op, line)
				line = line[:0]
			}
		case <-wait:
			s.process(ctx, op, line)
			line = line[:0]
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

func retriable(ctx context.Context, err error) bool {
	return ctx.Err() == nil &&
		!errors.Is(err, appnvm.ErrBounds) &&
		!errors.Is(err, appnvm.ErrInvalid)
}

// process submits one batch, retrying as needed, and completes its
// sectors.
func (s *Submitter) process(ctx context.Context, op nvm.IOOp, line []*sector) {
	if len(line) == 0 {
		return
	}
	s.lines.Add(1)
	ctx = dlog.WithField(ctx, "appnvm.lbaio.line", op)
	err := s.rw(ctx, op, line)
	for retry := 0; err != nil && retry < Retries && retriable(ctx, err); retry++ {
		s.retries.Add(1)
		dlog.Warnf(ctx, "batch of %d sector(s) at lba %d failed, retrying in %v: %v",
			len(line), line[0].lba, RetryDelay, err)
		timer := time.NewTimer(RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
		case <-timer.C:
			err = s.rw(ctx, op, line)
		}
	}
	if err != nil {
		dlog.Errorf(ctx, "batch of %d sector(s) at lba %d failed: %v", len(line), line[0].lba, err)
	}
	s.finish(line, err)
}

func (s *Submitter) finish(line []*sector, err error) {
	for _, sec := range line {
		if err != nil {
			s.failed.Add(1)
		}
		cmd := sec.cmd
		s.pool.Put(sec)
		cmd.SectorDone(err)
	}
}

func (s *Submitter) rw(ctx context.Context, op nvm.IOOp, line []*sector) error {
	if op == nvm.IOWrite {
		return s.write(ctx, line)
	}
	return s.read(ctx, line)
}

func (s *Submitter) write(ctx context.Context, line []*sector) error {
	reg := s.ftl.Registry()
	n := len(line)
	pgs := (n + s.secPgs - 1) / s.secPgs
	prov, err := reg.GlProv.New(ctx, pgs)
	if err != nil {
		return fmt.Errorf("lbaio: provision %d page(s): %w", pgs, err)
	}
	defer reg.GlProv.Free(prov)
	if len(prov.PPAs) < n {
		return fmt.Errorf("lbaio: provisioned %d sector(s), need %d", len(prov.PPAs), n)
	}

	total := len(prov.PPAs)
	oob := make([]byte, total*s.oobSize)
	cmd := &appnvm.PPACmd{
		Op:   nvm.OpWrite,
		PPAs: prov.PPAs,
		Data: make([][]byte, total),
		OOB:  make([][]byte, total),
	}
	for i := range cmd.PPAs {
		cmd.OOB[i] = oob[i*s.oobSize : (i+1)*s.oobSize]
		var err error
		if i < n {
			cmd.Data[i] = line[i].data()
			err = PutOOB(cmd.OOB[i], OOBNamespace, line[i].lba)
		} else {
			cmd.Data[i] = line[0].data()
			err = PutOOB(cmd.OOB[i], OOBPadding, nvm.PPAUnmapped)
		}
		if err != nil {
			return err
		}
	}
	if err := reg.PPAIO.Submit(ctx, cmd); err != nil {
		return err
	}
	return s.upsert(ctx, line, prov.PPAs[:n])
}

func (s *Submitter) upsert(ctx context.Context, line []*sector, ppas []nvm.PPA) error {
	reg := s.ftl.Registry()
	if mu := reg.GCNamespaceLock(); mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	old := make([]uint64, 0, len(line))
	for i, sec := range line {
		prev, err := reg.GlMap.Read(ctx, sec.lba)
		if err == nil {
			err = reg.GlMap.Upsert(ctx, sec.lba, ppas[i].Pack())
		}
		if err != nil {
			for j := len(old) - 1; j >= 0; j-- {
				if err := reg.GlMap.Upsert(ctx, line[j].lba, old[j]); err != nil {
					dlog.Errorf(ctx, "rollback of lba %d failed: %v", line[j].lba, err)
				}
			}
			return fmt.Errorf("lbaio: map lba %d: %w", sec.lba, err)
		}
		old = append(old, prev)
	}
	return nil
}

func (s *Submitter) read(ctx context.Context, line []*sector) error {
	reg := s.ftl.Registry()
	cmd := &appnvm.PPACmd{Op: nvm.OpRead}
	for _, sec := range line {
		v, err := reg.GlMap.Read(ctx, sec.lba)
		if err != nil {
			return fmt.Errorf("lbaio: resolve lba %d: %w", sec.lba, err)
		}
		if v == nvm.PPAUnmapped {
			clear(sec.data())
			continue
		}
		cmd.PPAs = append(cmd.PPAs, nvm.UnpackPPA(v))
		cmd.Data = append(cmd.Data, sec.data())
	}
	if len(cmd.PPAs) == 0 {
		return nil
	}
	return reg.PPAIO.Submit(ctx, cmd)
}
