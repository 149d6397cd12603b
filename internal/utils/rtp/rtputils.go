package rtputils

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/randutil"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const (
	rtpHeaderSize = 12
	rtpVersion    = 2
)

var (
	ErrEmptyPayload       = errors.New("opus data is empty")
	ErrShortPacket        = errors.New("RTP packet too short")
	ErrUnsupportedVersion = errors.New("unsupported RTP version")
	ErrPayloadType        = errors.New("unexpected payload type")
	ErrPacketTooLarge     = errors.New("packet exceeds MTU")
)

type RTPPacket struct {
	SSRC       uint32
	Sequence   uint16
	Timestamp  uint32
	ReceivedAt time.Time

	Payload []byte
	PCMData []int16

	PayloadType uint8
	Marker      bool
}

type RTPConfig struct {
	PayloadType uint8
	SSRC        uint32
	ClockRate   uint32
	Mtu         uint16
}

func DefaultOpusConfig() RTPConfig {
	return RTPConfig{
		PayloadType: 96,
		ClockRate:   48000,
		SSRC:        GenerateSSRC(),
		Mtu:         1200,
	}
}

func GenerateSSRC() uint32 {
	return randutil.NewMathRandomGenerator().Uint32()
}

type Packetizer struct {
	packetizer rtp.Packetizer
	mtu        uint16
}

// NewOpusPacketizer builds RTP packets carrying one Opus frame each. Opus
// frames are never split across packets.
func NewOpusPacketizer(config RTPConfig) *Packetizer {
	packetizer := rtp.NewPacketizer(
		config.Mtu,
		config.PayloadType,
		config.SSRC,
		&codecs.OpusPayloader{},
		rtp.NewRandomSequencer(),
		config.ClockRate,
	)

	return &Packetizer{
		packetizer: packetizer,
		mtu:        config.Mtu,
	}
}

// Packetize wraps one encoded frame. samples advances the RTP timestamp and
// is measured in the clock rate.
func (p *Packetizer) Packetize(opusData []byte, samples int) ([][]byte, error) {
	if len(opusData) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(opusData)+rtpHeaderSize > int(p.mtu) {
		return nil, fmt.Errorf("%w: %d bytes, MTU %d", ErrPacketTooLarge, len(opusData)+rtpHeaderSize, p.mtu)
	}

	packets := p.packetizer.Packetize(opusData, uint32(samples))
	result := make([][]byte, 0, len(packets))

	for _, packet := range packets {
		data, err := packet.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal RTP packet: %w", err)
		}
		result = append(result, data)
	}

	return result, nil
}

type ReceptionStats struct {
	PacketsReceived uint32
	BytesReceived   uint64
	PacketsLost     uint32
	OutOfOrder      uint32
	BadPackets      uint32
	FirstReceivedAt time.Time
	LastReceivedAt  time.Time
}

type RTPDepacketizer struct {
	expectedPayloadType uint8
	opus                codecs.OpusPacket
	lastSequence        map[uint32]uint16
	stats               ReceptionStats
}

// NewOpusDepacketizer accepts packets of the given payload type; 0 accepts
// any type.
func NewOpusDepacketizer(expectedPayloadType uint8) *RTPDepacketizer {
	return &RTPDepacketizer{
		expectedPayloadType: expectedPayloadType,
		lastSequence:        make(map[uint32]uint16),
		stats: ReceptionStats{
			FirstReceivedAt: time.Now(),
		},
	}
}

func (d *RTPDepacketizer) Depacketize(rtpData []byte) (*RTPPacket, error) {
	if len(rtpData) < rtpHeaderSize {
		d.stats.BadPackets++
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(rtpData))
	}

	if version := rtpData[0] >> 6; version != rtpVersion {
		d.stats.BadPackets++
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(rtpData); err != nil {
		d.stats.BadPackets++
		return nil, fmt.Errorf("failed to unmarshal RTP packet: %w", err)
	}

	if d.expectedPayloadType != 0 && packet.Header.PayloadType != d.expectedPayloadType {
		d.stats.BadPackets++
		return nil, fmt.Errorf("%w: got %d, expected %d",
			ErrPayloadType, packet.Header.PayloadType, d.expectedPayloadType)
	}

	payload, err := d.opus.Unmarshal(packet.Payload)
	if err != nil {
		d.stats.BadPackets++
		return nil, fmt.Errorf("failed to unpack opus payload: %w", err)
	}

	ssrc := packet.Header.SSRC
	seq := packet.Header.SequenceNumber
	if last, ok := d.lastSequence[ssrc]; ok {
		switch gap := int16(seq - last - 1); {
		case gap > 0:
			d.stats.PacketsLost += uint32(gap)
		case gap < 0:
			d.stats.OutOfOrder++
		}
	}
	if last, ok := d.lastSequence[ssrc]; !ok || int16(seq-last) > 0 {
		d.lastSequence[ssrc] = seq
	}

	now := time.Now()
	d.stats.PacketsReceived++
	d.stats.BytesReceived += uint64(len(rtpData))
	d.stats.LastReceivedAt = now

	return &RTPPacket{
		SSRC:       ssrc,
		Sequence:   seq,
		Timestamp:  packet.Header.Timestamp,
		ReceivedAt: now,

		Payload: append([]byte(nil), payload...),

		PayloadType: packet.Header.PayloadType,
		Marker:      packet.Header.Marker,
	}, nil
}

func (d *RTPDepacketizer) GetStats() ReceptionStats {
	return d.stats
}

func (d *RTPDepacketizer) ResetStats() {
	d.stats = ReceptionStats{
		FirstReceivedAt: time.Now(),
	}
	clear(d.lastSequence)
}
