// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeBinary renders one record in the length-prefixed binary layout: a
// u16 little-endian length followed by a fixed little-endian field layout
// carrying the same field set the NDJSON encoding does.
func EncodeBinary(rec Record) []byte {
	payload := make([]byte, 0, 64)
	payload = append(payload, byte(rec.Type))
	payload = appendUint64(payload, rec.Timestamp)
	payload = appendUint64(payload, rec.Vertex.Address)
	payload = appendUint32(payload, rec.Vertex.TypeID)
	payload = appendUint64(payload, rec.Pre.Address)
	payload = appendUint32(payload, rec.Pre.TypeID)
	payload = appendUint64(payload, rec.Sem)
	payload = appendUint64(payload, rec.Value)
	payload = appendUint32(payload, uint32(len(rec.Extra)))
	payload = append(payload, rec.Extra...)

	if len(payload) > 0xFFFF {
		panic(fmt.Errorf("traceevent/wire: record payload of %d bytes exceeds u16 length prefix", len(payload)))
	}

	out := make([]byte, 2, 2+len(payload))
	binary.LittleEndian.PutUint16(out, uint16(len(payload)))
	return append(out, payload...)
}

// DecodeBinary reads every length-prefixed record from r.
func DecodeBinary(r io.Reader) (records []Record, err error) {
	br := bufio.NewReader(r)

	for {
		lenBuf := make([]byte, 2)
		if _, err = io.ReadFull(br, lenBuf); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return nil, err
		}
		payloadLen := binary.LittleEndian.Uint16(lenBuf)

		payload := make([]byte, payloadLen)
		if _, err = io.ReadFull(br, payload); err != nil {
			return nil, fmt.Errorf("traceevent/wire: short record payload: %w", err)
		}

		rec, decodeErr := decodeBinaryPayload(payload)
		if decodeErr != nil {
			return nil, decodeErr
		}
		records = append(records, rec)
	}
}

func decodeBinaryPayload(payload []byte) (rec Record, err error) {
	const minLen = 1 + 8 + 8 + 4 + 8 + 4 + 8 + 8 + 4
	if len(payload) < minLen {
		return Record{}, fmt.Errorf("traceevent/wire: payload of %d bytes shorter than minimum %d", len(payload), minLen)
	}

	rec.Type = EventType(payload[0])
	offset := 1

	rec.Timestamp, offset = readUint64(payload, offset)
	rec.Vertex.Address, offset = readUint64(payload, offset)
	rec.Vertex.TypeID, offset = readUint32(payload, offset)
	rec.Pre.Address, offset = readUint64(payload, offset)
	rec.Pre.TypeID, offset = readUint32(payload, offset)
	rec.Sem, offset = readUint64(payload, offset)
	rec.Value, offset = readUint64(payload, offset)

	extraLen, offset2 := readUint32(payload, offset)
	offset = offset2
	if offset+int(extraLen) > len(payload) {
		return Record{}, fmt.Errorf("traceevent/wire: extra field length %d overruns payload", extraLen)
	}
	rec.Extra = string(payload[offset : offset+int(extraLen)])

	return rec, nil
}

func appendUint32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func appendUint64(b []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	return append(b, tmp...)
}

func readUint32(b []byte, offset int) (uint32, int) {
	return binary.LittleEndian.Uint32(b[offset : offset+4]), offset + 4
}

func readUint64(b []byte, offset int) (uint64, int) {
	return binary.LittleEndian.Uint64(b[offset : offset+8]), offset + 8
}
