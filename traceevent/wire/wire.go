// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Format selects which on-disk encoding a shard's output file uses,
// chosen via ConfMap["Tracer"]["WireFormat"]. Downstream tooling either
// knows the configured format or detects it from the file's first bytes.
type Format int

const (
	NDJSON Format = iota
	Binary
)

func ParseFormat(s string) (Format, error) {
	switch s {
	case "ndjson", "":
		return NDJSON, nil
	case "binary":
		return Binary, nil
	default:
		return NDJSON, fmt.Errorf("traceevent/wire: unknown wire format %q", s)
	}
}

func (f Format) String() string {
	if f == Binary {
		return "binary"
	}
	return "ndjson"
}

// Encode renders rec in the given format.
func Encode(format Format, rec Record) []byte {
	if format == Binary {
		return EncodeBinary(rec)
	}
	return EncodeNDJSON(rec)
}

// Decode reads every record from r in the given format.
func Decode(format Format, r io.Reader) ([]Record, error) {
	if format == Binary {
		return DecodeBinary(r)
	}
	return DecodeNDJSON(r)
}

// DetectFormat distinguishes the two encodings by signature: an NDJSON
// file's first byte is always '{', a binary file's first two bytes are a
// u16 length that is never the ASCII byte '{' (0x7B) paired with a
// plausible second byte in a well-formed JSON stream; in practice the
// binary format's length prefix for any real record is under 256 bytes,
// so its second byte is 0x00. This is a heuristic fallback; callers that
// know their own configuration should prefer ParseFormat over detection.
func DetectFormat(b []byte) Format {
	if len(b) > 0 && bytes.HasPrefix(b, []byte("{")) {
		return NDJSON
	}
	return Binary
}

// sessionHeaderJSON is the NDJSON encoding of the per-file session header,
// written once, before the first STRING_ID record, so a decoder can tell
// two process runs that reused the same tid apart.
type sessionHeaderJSON struct {
	Session string `json:"session"`
}

// EncodeSessionHeader renders the one-time session header a shard writes
// as the very first bytes of its output file.
func EncodeSessionHeader(format Format, sessionID string) []byte {
	if format == Binary {
		payload := []byte(sessionID)
		out := make([]byte, 2, 2+len(payload))
		binary.LittleEndian.PutUint16(out, uint16(len(payload)))
		return append(out, payload...)
	}

	b, err := json.Marshal(sessionHeaderJSON{Session: sessionID})
	if err != nil {
		panic(fmt.Errorf("traceevent/wire: marshaling session header: %w", err))
	}
	return append(b, '\n')
}

// DecodeSessionHeader consumes the leading session header from r and
// returns the session id plus a reader positioned at the first trace
// record, for a subsequent call to Decode.
func DecodeSessionHeader(format Format, r io.Reader) (sessionID string, rest io.Reader, err error) {
	if format == Binary {
		lenBuf := make([]byte, 2)
		if _, err = io.ReadFull(r, lenBuf); err != nil {
			return "", nil, fmt.Errorf("traceevent/wire: reading session header length: %w", err)
		}
		payloadLen := binary.LittleEndian.Uint16(lenBuf)
		payload := make([]byte, payloadLen)
		if _, err = io.ReadFull(r, payload); err != nil {
			return "", nil, fmt.Errorf("traceevent/wire: reading session header payload: %w", err)
		}
		return string(payload), r, nil
	}

	br := bufio.NewReader(r)
	line, readErr := br.ReadString('\n')
	if readErr != nil && readErr != io.EOF {
		return "", nil, fmt.Errorf("traceevent/wire: reading session header line: %w", readErr)
	}

	var header sessionHeaderJSON
	if err = json.Unmarshal(bytes.TrimSpace([]byte(line)), &header); err != nil {
		return "", nil, fmt.Errorf("traceevent/wire: decoding session header %q: %w", line, err)
	}
	return header.Session, br, nil
}
