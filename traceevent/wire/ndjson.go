// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// jsonRecord mirrors Record field-for-field with the on-disk names.
// Absent vertices are omitted rather than serialized as zero addresses;
// integers render as unsigned decimal.
type jsonRecord struct {
	Type      string      `json:"type"`
	Timestamp uint64      `json:"timestamp"`
	Vertex    *vertexJSON `json:"vertex,omitempty"`
	Pre       *vertexJSON `json:"pre,omitempty"`
	Sem       *uint64     `json:"sem,omitempty"`
	Value     *uint64     `json:"value,omitempty"`
	Extra     *string     `json:"extra,omitempty"`
}

type vertexJSON struct {
	Address uint64 `json:"address"`
	TypeID  uint32 `json:"type_id"`
}

func vertexRefToJSON(v VertexRef) *vertexJSON {
	if v.IsZero() {
		return nil
	}
	return &vertexJSON{Address: v.Address, TypeID: v.TypeID}
}

func vertexRefFromJSON(v *vertexJSON) VertexRef {
	if v == nil {
		return VertexRef{}
	}
	return VertexRef{Address: v.Address, TypeID: v.TypeID}
}

// EncodeNDJSON renders one record as a single JSON object terminated by
// '\n'.
func EncodeNDJSON(rec Record) []byte {
	jr := jsonRecord{Type: rec.Type.String(), Timestamp: rec.Timestamp}
	jr.Vertex = vertexRefToJSON(rec.Vertex)
	jr.Pre = vertexRefToJSON(rec.Pre)
	if rec.Sem != 0 {
		sem := rec.Sem
		jr.Sem = &sem
	}
	if rec.Value != 0 {
		val := rec.Value
		jr.Value = &val
	}
	if rec.Extra != "" {
		extra := rec.Extra
		jr.Extra = &extra
	}

	encoded, err := json.Marshal(jr)
	if err != nil {
		panic(fmt.Errorf("traceevent/wire: marshaling %+v: %w", rec, err))
	}
	return append(encoded, '\n')
}

// DecodeNDJSON reads every line from r and returns the decoded records, in
// file order, the way cmd/tracescan reconstructs a thread's event stream.
func DecodeNDJSON(r io.Reader) (records []Record, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var jr jsonRecord
		if err = json.Unmarshal(line, &jr); err != nil {
			return nil, fmt.Errorf("traceevent/wire: decoding line %q: %w", line, err)
		}

		eventType, ok := ParseEventType(jr.Type)
		if !ok {
			return nil, fmt.Errorf("traceevent/wire: unknown event type %q", jr.Type)
		}

		rec := Record{Type: eventType, Timestamp: jr.Timestamp}
		rec.Vertex = vertexRefFromJSON(jr.Vertex)
		rec.Pre = vertexRefFromJSON(jr.Pre)
		if jr.Sem != nil {
			rec.Sem = *jr.Sem
		}
		if jr.Value != nil {
			rec.Value = *jr.Value
		}
		if jr.Extra != nil {
			rec.Extra = *jr.Extra
		}

		records = append(records, rec)
	}

	if err = scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
