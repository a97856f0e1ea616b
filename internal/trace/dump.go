package trace

import (
	"bufio"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// DumpSchemaVersion is bumped whenever Event changes shape.
const DumpSchemaVersion uint32 = 1

type dumpHeader struct {
	Schema uint32 `msgpack:"schema"`
	Count  int    `msgpack:"count"`
}

// WriteDump encodes events as msgpack: a header followed by each event.
func WriteDump(w io.Writer, events []Event) error {
	bw := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(bw)
	if err := enc.Encode(&dumpHeader{Schema: DumpSchemaVersion, Count: len(events)}); err != nil {
		return errors.Wrap(err, "encode dump header")
	}
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return errors.Wrapf(err, "encode event %d", i)
		}
	}
	return bw.Flush()
}

// ReadDump decodes a stream written by WriteDump.
func ReadDump(r io.Reader) ([]Event, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var hdr dumpHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, errors.Wrap(err, "decode dump header")
	}
	if hdr.Schema != DumpSchemaVersion {
		return nil, errors.Newf("unsupported dump schema %d (want %d)", hdr.Schema, DumpSchemaVersion)
	}
	if hdr.Count < 0 {
		return nil, errors.Newf("corrupt dump header: count %d", hdr.Count)
	}
	events := make([]Event, 0, min(hdr.Count, 1<<16))
	for i := 0; i < hdr.Count; i++ {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, errors.Wrapf(err, "decode event %d", i)
		}
		events = append(events, ev)
	}
	return events, nil
}

// WriteDumpFile writes the ring's snapshot to path.
func WriteDumpFile(path string, ring *RingTracer) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return WriteDump(f, ring.Snapshot())
}

// ReadDumpFile reads a dump written by WriteDumpFile.
func ReadDumpFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return ReadDump(f)
}
