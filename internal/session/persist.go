package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/stackmat-terminal/internal/store"
)

const sessionIDLen = 37

// record is the persisted layout: little endian, no padding.
type record struct {
	SessionID         [sessionIDLen]byte
	CompetitorCardID  uint64
	InspectionStarted int64
	InspectionEnded   int64
	SaveTime          int64 // Unix seconds
	SolveTime         int64
	Penalty           int32
	CalibrationOffset float32
}

// recordSize is written as the length tag in front of the record.
var recordSize = binary.Size(record{})

var errNoSnapshot = errors.New("no saved session")

// Saved is a decoded snapshot.
type Saved struct {
	SessionID         string
	CompetitorCardID  uint64
	InspectionStarted int64
	InspectionEnded   int64
	SaveTime          time.Time
	SolveTime         int64
	Penalty           int
	CalibrationOffset float32
}

func writeSnapshot(nv store.NonVolatile, s Saved) error {
	rec := record{
		CompetitorCardID:  s.CompetitorCardID,
		InspectionStarted: s.InspectionStarted,
		InspectionEnded:   s.InspectionEnded,
		SaveTime:          s.SaveTime.Unix(),
		SolveTime:         s.SolveTime,
		Penalty:           int32(s.Penalty),
		CalibrationOffset: s.CalibrationOffset,
	}
	copy(rec.SessionID[:sessionIDLen-1], s.SessionID)

	var buf bytes.Buffer
	buf.WriteByte(byte(recordSize))
	if err := binary.Write(&buf, binary.LittleEndian, &rec); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := nv.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := nv.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// readSnapshot returns errNoSnapshot when the length tag does not match.
func readSnapshot(nv store.NonVolatile) (Saved, error) {
	var tag [1]byte
	if _, err := nv.ReadAt(tag[:], 0); err != nil {
		return Saved{}, fmt.Errorf("read snapshot tag: %w", err)
	}
	if int(tag[0]) != recordSize {
		return Saved{}, fmt.Errorf("%w: length tag %d, want %d", errNoSnapshot, tag[0], recordSize)
	}

	raw := make([]byte, recordSize)
	if _, err := nv.ReadAt(raw, 1); err != nil {
		return Saved{}, fmt.Errorf("read snapshot: %w", err)
	}
	var rec record
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &rec); err != nil {
		return Saved{}, fmt.Errorf("decode snapshot: %w", err)
	}

	id := rec.SessionID[:]
	if i := bytes.IndexByte(id, 0); i >= 0 {
		id = id[:i]
	}
	return Saved{
		SessionID:         string(id),
		CompetitorCardID:  rec.CompetitorCardID,
		InspectionStarted: rec.InspectionStarted,
		InspectionEnded:   rec.InspectionEnded,
		SaveTime:          time.Unix(rec.SaveTime, 0),
		SolveTime:         rec.SolveTime,
		Penalty:           int(rec.Penalty),
		CalibrationOffset: rec.CalibrationOffset,
	}, nil
}
