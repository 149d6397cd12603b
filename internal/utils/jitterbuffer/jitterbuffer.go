package jitterbuffer

import (
	"container/list"
	"sync"
	"time"

	rtputils "audioring/internal/utils/rtp"
)

type StreamBuffer struct {
	SSRC          uint32
	packets       *list.List
	packetsMap    map[uint16]*list.Element
	expectedSeq   uint16
	started       bool
	lastReadTime  time.Time
	maxBufferSize int
	mu            sync.Mutex
}

type JitterBuffer struct {
	streams       map[uint32]*StreamBuffer
	mu            sync.RWMutex
	maxStreams    int
	maxBufferSize int
	bufferTime    time.Duration
	now           func() time.Time
}

type Config struct {
	MaxStreams    int
	MaxBufferSize int
	BufferTime    time.Duration
}

func DefaultJitterbufferConfig() Config {
	return Config{
		MaxStreams:    5,
		MaxBufferSize: 100,
		BufferTime:    30 * time.Millisecond,
	}
}

func NewJitterBuffer(config Config) *JitterBuffer {
	if config.MaxStreams <= 0 {
		config.MaxStreams = 5
	}
	if config.MaxBufferSize <= 0 {
		config.MaxBufferSize = 100
	}
	if config.BufferTime < 0 {
		config.BufferTime = 0
	}

	return &JitterBuffer{
		streams:       make(map[uint32]*StreamBuffer),
		maxStreams:    config.MaxStreams,
		maxBufferSize: config.MaxBufferSize,
		bufferTime:    config.BufferTime,
		now:           time.Now,
	}
}

// AddPacket queues packet in sequence order. Duplicates and packets older
// than the last one handed out are dropped. A new stream evicts the least
// recently read one when MaxStreams is reached.
func (jb *JitterBuffer) AddPacket(packet *rtputils.RTPPacket) {
	// The stream stays registered while its lock is held, so Cleanup cannot
	// orphan it mid-insert.
	jb.mu.RLock()
	stream, exists := jb.streams[packet.SSRC]
	if exists {
		stream.addPacket(packet, jb.now())
		jb.mu.RUnlock()
		return
	}
	jb.mu.RUnlock()

	jb.mu.Lock()
	defer jb.mu.Unlock()

	stream, exists = jb.streams[packet.SSRC]
	if !exists {
		if len(jb.streams) >= jb.maxStreams {
			jb.removeInactiveStream()
		}
		stream = jb.createStream(packet.SSRC)
		jb.streams[packet.SSRC] = stream
	}
	stream.addPacket(packet, jb.now())
}

// GetPacket returns the oldest packet of ssrc once it has been held for
// BufferTime, or nil.
func (jb *JitterBuffer) GetPacket(ssrc uint32) *rtputils.RTPPacket {
	jb.mu.RLock()
	stream, exists := jb.streams[ssrc]
	jb.mu.RUnlock()

	if !exists {
		return nil
	}
	return stream.getPacket(jb.now(), jb.bufferTime)
}

func (jb *JitterBuffer) RemoveStream(ssrc uint32) {
	jb.mu.Lock()
	delete(jb.streams, ssrc)
	jb.mu.Unlock()
}

func (jb *JitterBuffer) GetActiveStreams() []uint32 {
	jb.mu.RLock()
	defer jb.mu.RUnlock()

	streams := make([]uint32, 0, len(jb.streams))
	for ssrc := range jb.streams {
		streams = append(streams, ssrc)
	}
	return streams
}

// Len returns the number of packets queued for ssrc.
func (jb *JitterBuffer) Len(ssrc uint32) int {
	jb.mu.RLock()
	stream, exists := jb.streams[ssrc]
	jb.mu.RUnlock()

	if !exists {
		return 0
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return stream.packets.Len()
}

// Cleanup drops streams that have not been read for timeout and returns how
// many were removed.
func (jb *JitterBuffer) Cleanup(timeout time.Duration) int {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	now := jb.now()
	removed := 0
	for ssrc, stream := range jb.streams {
		stream.mu.Lock()
		lastRead := stream.lastReadTime
		stream.mu.Unlock()

		if now.Sub(lastRead) > timeout {
			delete(jb.streams, ssrc)
			removed++
		}
	}
	return removed
}

func (jb *JitterBuffer) createStream(ssrc uint32) *StreamBuffer {
	return &StreamBuffer{
		SSRC:          ssrc,
		packets:       list.New(),
		packetsMap:    make(map[uint16]*list.Element),
		maxBufferSize: jb.maxBufferSize,
		lastReadTime:  jb.now(),
	}
}

func (jb *JitterBuffer) removeInactiveStream() {
	var oldestSSRC uint32
	var oldestTime time.Time
	first := true

	for ssrc, stream := range jb.streams {
		stream.mu.Lock()
		lastRead := stream.lastReadTime
		stream.mu.Unlock()

		if first || lastRead.Before(oldestTime) {
			oldestTime = lastRead
			oldestSSRC = ssrc
			first = false
		}
	}

	if !first {
		delete(jb.streams, oldestSSRC)
	}
}

// seqDiff is a - b in RTP sequence space.
func seqDiff(a, b uint16) int16 {
	return int16(a - b)
}

func (sb *StreamBuffer) addPacket(packet *rtputils.RTPPacket, now time.Time) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	packet.ReceivedAt = now

	if _, exists := sb.packetsMap[packet.Sequence]; exists {
		return
	}
	if sb.started && seqDiff(packet.Sequence, sb.expectedSeq) < 0 {
		return
	}

	if sb.packets.Len() >= sb.maxBufferSize {
		sb.cleanOldPackets()
	}

	sb.insertPacketSorted(packet)
}

func (sb *StreamBuffer) getPacket(now time.Time, bufferTime time.Duration) *rtputils.RTPPacket {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.lastReadTime = now

	elem := sb.packets.Front()
	if elem == nil {
		return nil
	}

	packet := elem.Value.(*rtputils.RTPPacket)
	if now.Sub(packet.ReceivedAt) < bufferTime {
		return nil
	}

	sb.packets.Remove(elem)
	delete(sb.packetsMap, packet.Sequence)

	sb.expectedSeq = packet.Sequence + 1
	sb.started = true

	return packet
}

func (sb *StreamBuffer) insertPacketSorted(packet *rtputils.RTPPacket) {
	for e := sb.packets.Back(); e != nil; e = e.Prev() {
		p := e.Value.(*rtputils.RTPPacket)
		if seqDiff(packet.Sequence, p.Sequence) > 0 {
			sb.packetsMap[packet.Sequence] = sb.packets.InsertAfter(packet, e)
			return
		}
	}
	sb.packetsMap[packet.Sequence] = sb.packets.PushFront(packet)
}

func (sb *StreamBuffer) cleanOldPackets() {
	for sb.packets.Len() > sb.maxBufferSize/2 {
		elem := sb.packets.Front()
		if elem == nil {
			break
		}

		packet := elem.Value.(*rtputils.RTPPacket)
		sb.packets.Remove(elem)
		delete(sb.packetsMap, packet.Sequence)
		sb.expectedSeq = packet.Sequence + 1
		sb.started = true
	}
}
