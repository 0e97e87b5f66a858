package cacheentry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/natefinch/atomic"
)

// infoMagic/infoVersion guard against reading a corrupt or foreign-format
// sidecar; grounded on calvinalkan-agent-task/cache_binary.go's
// magic+version binary header convention.
const (
	infoMagic      = "CFEI"
	infoVersion    = uint32(1)
	infoHeaderSize = 8  // magic + version
	infoBodyMinSize = 48 // fixed fields before the variable-length trailing tag
)

var errInfoCorrupt = errors.New("cacheentry: info sidecar corrupt")

// InfoRecord is the sidecar persisted alongside the encoded-bytes artifact,
// per spec's fixed binary layout: encoded_size, finished, error, created_at,
// accessed_at, source_mtime, then the trailing_tag blob.
type InfoRecord struct {
	EncodedSize uint64
	Finished    bool
	Errored     bool
	CreatedAt   time.Time
	AccessedAt  time.Time
	SourceMtime time.Time
	TrailingTag []byte
}

// Encode renders the record in little-endian byte order on every host.
func (r InfoRecord) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(infoMagic)
	binary.Write(&buf, binary.LittleEndian, infoVersion)
	binary.Write(&buf, binary.LittleEndian, r.EncodedSize)
	buf.WriteByte(boolByte(r.Finished))
	buf.WriteByte(boolByte(r.Errored))
	buf.Write(make([]byte, 6)) // alignment padding
	binary.Write(&buf, binary.LittleEndian, r.CreatedAt.UnixNano())
	binary.Write(&buf, binary.LittleEndian, r.AccessedAt.UnixNano())
	binary.Write(&buf, binary.LittleEndian, r.SourceMtime.UnixNano())
	binary.Write(&buf, binary.LittleEndian, uint32(len(r.TrailingTag)))
	buf.Write(make([]byte, 4)) // alignment padding
	buf.Write(r.TrailingTag)
	return buf.Bytes()
}

// DecodeInfo parses a record previously produced by Encode.
func DecodeInfo(data []byte) (InfoRecord, error) {
	if len(data) < infoHeaderSize+infoBodyMinSize {
		return InfoRecord{}, errInfoCorrupt
	}
	if string(data[0:4]) != infoMagic {
		return InfoRecord{}, errInfoCorrupt
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != infoVersion {
		return InfoRecord{}, fmt.Errorf("%w: version %d", errInfoCorrupt, version)
	}
	body := data[infoHeaderSize:]
	var r InfoRecord
	r.EncodedSize = binary.LittleEndian.Uint64(body[0:8])
	r.Finished = body[8] != 0
	r.Errored = body[9] != 0
	// body[10:16] padding
	r.CreatedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(body[16:24])))
	r.AccessedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(body[24:32])))
	r.SourceMtime = time.Unix(0, int64(binary.LittleEndian.Uint64(body[32:40])))
	tagLen := binary.LittleEndian.Uint32(body[40:44])
	// body[44:48] padding
	tagStart := 48
	if len(body) < tagStart+int(tagLen) {
		return InfoRecord{}, errInfoCorrupt
	}
	r.TrailingTag = append([]byte(nil), body[tagStart:tagStart+int(tagLen)]...)
	return r, nil
}

// WriteInfo persists rec to path atomically (rename-into-place), grounded
// on calvinalkan-agent-task's SaveBinaryCache use of natefinch/atomic.
func WriteInfo(path string, rec InfoRecord) error {
	return atomic.WriteFile(path, bytes.NewReader(rec.Encode()))
}

// ReadInfo loads and validates the sidecar at path.
func ReadInfo(path string) (InfoRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return InfoRecord{}, err
	}
	return DecodeInfo(data)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
