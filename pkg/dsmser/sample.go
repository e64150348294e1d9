// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dsmser

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Sample is one decoded record from the encoded stream.
type Sample struct {
	Timetag Millis
	Data    []byte
}

// SampleReader decodes the stream produced by Port.Read.
type SampleReader struct {
	r   io.Reader
	hdr [RecordHeaderSize]byte
}

// NewSampleReader returns a reader decoding samples from r.
func NewSampleReader(r io.Reader) *SampleReader {
	return &SampleReader{r: r}
}

// Next returns the next sample. It returns io.EOF at a clean end of stream
// and io.ErrUnexpectedEOF if the stream ends inside a sample.
func (sr *SampleReader) Next() (Sample, error) {
	if _, err := io.ReadFull(sr.r, sr.hdr[:]); err != nil {
		return Sample{}, err
	}
	tt := binary.LittleEndian.Uint32(sr.hdr[0:4])
	length := binary.LittleEndian.Uint32(sr.hdr[4:8])
	if length > MaxRecordSize {
		return Sample{}, fmt.Errorf("sample length %d exceeds %d", length, MaxRecordSize)
	}
	if tt >= MillisPerDay {
		return Sample{}, fmt.Errorf("sample time tag %d out of range", tt)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(sr.r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Sample{}, err
	}
	return Sample{Timetag: Millis(tt), Data: data}, nil
}

// archivedSample is the CBOR form of a sample: a map with small integer
// keys, the same layout the device protocols use for payloads.
type archivedSample struct {
	Port    string `cbor:"1,keyasint,omitempty"`
	Timetag uint32 `cbor:"2,keyasint"`
	Data    []byte `cbor:"3,keyasint"`
}

// EncodeSampleCBOR encodes a sample received on port as a CBOR map.
func EncodeSampleCBOR(port string, s Sample) ([]byte, error) {
	data, err := cbor.Marshal(archivedSample{Port: port, Timetag: uint32(s.Timetag), Data: s.Data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sample: %w", err)
	}
	return data, nil
}

// DecodeSampleCBOR decodes one CBOR encoded sample.
func DecodeSampleCBOR(data []byte) (string, Sample, error) {
	var a archivedSample
	if err := cbor.Unmarshal(data, &a); err != nil {
		return "", Sample{}, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if a.Timetag >= MillisPerDay {
		return "", Sample{}, fmt.Errorf("sample time tag %d out of range", a.Timetag)
	}
	return a.Port, Sample{Timetag: Millis(a.Timetag), Data: a.Data}, nil
}

// SampleEncoder writes a stream of CBOR encoded samples.
type SampleEncoder struct {
	enc *cbor.Encoder
}

// NewSampleEncoder returns an encoder writing to w.
func NewSampleEncoder(w io.Writer) *SampleEncoder {
	return &SampleEncoder{enc: cbor.NewEncoder(w)}
}

// Encode writes one sample.
func (e *SampleEncoder) Encode(port string, s Sample) error {
	return e.enc.Encode(archivedSample{Port: port, Timetag: uint32(s.Timetag), Data: s.Data})
}

// SampleDecoder reads a stream written by SampleEncoder.
type SampleDecoder struct {
	dec *cbor.Decoder
}

// NewSampleDecoder returns a decoder reading from r.
func NewSampleDecoder(r io.Reader) *SampleDecoder {
	return &SampleDecoder{dec: cbor.NewDecoder(r)}
}

// Decode reads the next sample. It returns io.EOF at the end of the stream.
func (d *SampleDecoder) Decode() (string, Sample, error) {
	var a archivedSample
	if err := d.dec.Decode(&a); err != nil {
		return "", Sample{}, err
	}
	if a.Timetag >= MillisPerDay {
		return "", Sample{}, fmt.Errorf("sample time tag %d out of range", a.Timetag)
	}
	return a.Port, Sample{Timetag: Millis(a.Timetag), Data: a.Data}, nil
}
