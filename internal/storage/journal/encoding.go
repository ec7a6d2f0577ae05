package journal

import (
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/xtxerr/digirec/internal/event"
)

// Batch payload, protobuf wire format, zstd compressed:
//
//	message Batch  { repeated Record records = 1; }
//	message Record {
//	  uint64  evt_no          = 1;
//	  uint32  channel         = 2;
//	  fixed64 timestamp       = 3;
//	  uint32  waveform_length = 4;
//	  repeated uint32 u16     = 5 [packed];
//	  repeated float  f32     = 6 [packed];
//	}

const (
	fieldRecords = 1

	fieldEvtNo     = 1
	fieldChannel   = 2
	fieldTimestamp = 3
	fieldLength    = 4
	fieldU16       = 5
	fieldF32       = 6
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

// encodeRecords encodes a batch of records into a compressed payload.
func encodeRecords(recs []event.Record) []byte {
	var buf, msg []byte
	for i := range recs {
		msg = appendRecord(msg[:0], &recs[i])
		buf = protowire.AppendTag(buf, fieldRecords, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg)
	}
	return encoder.EncodeAll(buf, nil)
}

func appendRecord(b []byte, r *event.Record) []byte {
	b = protowire.AppendTag(b, fieldEvtNo, protowire.VarintType)
	b = protowire.AppendVarint(b, r.EventNumber)
	b = protowire.AppendTag(b, fieldChannel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Channel))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, r.Timestamp)
	b = protowire.AppendTag(b, fieldLength, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.WaveformLength))

	if r.Samples.U16 != nil {
		var packed []byte
		for _, v := range r.Samples.U16 {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = protowire.AppendTag(b, fieldU16, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	} else if r.Samples.F32 != nil {
		packed := make([]byte, 0, 4*len(r.Samples.F32))
		for _, v := range r.Samples.F32 {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		b = protowire.AppendTag(b, fieldF32, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

// decodeRecords decodes a compressed payload.
func decodeRecords(payload []byte) ([]event.Record, error) {
	data, err := decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var recs []event.Record
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		if num != fieldRecords || typ != protowire.BytesType {
			if n = protowire.ConsumeFieldValue(num, typ, data); n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}

		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		r, err := decodeRecord(msg)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(recs), err)
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func decodeRecord(b []byte) (event.Record, error) {
	var r event.Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldEvtNo && typ == protowire.VarintType:
			r.EventNumber, n = protowire.ConsumeVarint(b)
		case num == fieldChannel && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.Channel = uint32(v)
		case num == fieldTimestamp && typ == protowire.Fixed64Type:
			r.Timestamp, n = protowire.ConsumeFixed64(b)
		case num == fieldLength && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.WaveformLength = uint32(v)
		case num == fieldU16 && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				u16 := make([]uint16, 0, r.WaveformLength)
				for len(packed) > 0 {
					v, m := protowire.ConsumeVarint(packed)
					if m < 0 {
						return r, protowire.ParseError(m)
					}
					u16 = append(u16, uint16(v))
					packed = packed[m:]
				}
				r.Samples = event.Uint16Samples(u16)
			}
		case num == fieldF32 && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				f32 := make([]float32, 0, len(packed)/4)
				for len(packed) > 0 {
					v, m := protowire.ConsumeFixed32(packed)
					if m < 0 {
						return r, protowire.ParseError(m)
					}
					f32 = append(f32, math.Float32frombits(v))
					packed = packed[m:]
				}
				r.Samples = event.Float32Samples(f32)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}

		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return r, nil
}
