package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// Binary layout v1. The header is fixed-width so the store's Lua scripts can
// read and splice individual fields by offset without a full parse:
//
//	[0]      version
//	[1]      flags (bit0 active, bit1 geo present, bit2 geo has coords)
//	[2]      termination reason code
//	[3:11]   createdAt (unix seconds, big-endian)
//	[11:19]  lastActivityAt
//	[19:27]  expiresAt
//	[27:35]  terminatedAt
//	[35]     subjectID length (uint8)
//	[36:..]  subjectID
//
// followed by uint16-length-prefixed userAgent, platform, browser, deviceID,
// geoIP, geoCity, geoCountry, and, when bit2 is set, 16 bytes of lat/lon
// IEEE-754 bits.
const (
	recordVersionV1 = 1

	flagActive    = 1 << 0
	flagGeo       = 1 << 1
	flagGeoCoords = 1 << 2
)

var errCorruptRecord = errors.New("corrupt session record")

// Encode serializes a session to its binary record form.
func Encode(sess *Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("nil session")
	}
	if len(sess.SubjectID) == 0 || len(sess.SubjectID) > 255 {
		return nil, errors.New("invalid subject id length")
	}

	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)

	var flags byte
	if sess.Active {
		flags |= flagActive
	}
	if sess.GeoPresent {
		flags |= flagGeo
	}
	if sess.GeoHasCoords {
		flags |= flagGeoCoords
	}
	buf.WriteByte(flags)
	buf.WriteByte(byte(sess.Reason))

	for _, ts := range []int64{sess.CreatedAt, sess.LastActivityAt, sess.ExpiresAt, sess.TerminatedAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	buf.WriteByte(byte(len(sess.SubjectID)))
	buf.WriteString(sess.SubjectID)

	for _, field := range []string{
		sess.UserAgent, sess.Platform, sess.Browser, sess.DeviceID,
		sess.GeoIP, sess.GeoCity, sess.GeoCountry,
	} {
		if len(field) > 65535 {
			return nil, errors.New("session field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	if sess.GeoHasCoords {
		if err := binary.Write(&buf, binary.BigEndian, math.Float64bits(sess.GeoLat)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, math.Float64bits(sess.GeoLon)); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a binary record. The SessionID is not part of the record; the
// store assigns it from the key.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid session record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	reason, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}

	sess := &Session{
		Active:       flags&flagActive != 0,
		GeoPresent:   flags&flagGeo != 0,
		GeoHasCoords: flags&flagGeoCoords != 0,
		Reason:       TerminationReason(reason),
	}

	for _, ts := range []*int64{&sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt, &sess.TerminatedAt} {
		if err := binary.Read(reader, binary.BigEndian, ts); err != nil {
			return nil, errCorruptRecord
		}
	}

	subjLen, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	subject := make([]byte, subjLen)
	if _, err := io.ReadFull(reader, subject); err != nil {
		return nil, errCorruptRecord
	}
	sess.SubjectID = string(subject)

	for _, field := range []*string{
		&sess.UserAgent, &sess.Platform, &sess.Browser, &sess.DeviceID,
		&sess.GeoIP, &sess.GeoCity, &sess.GeoCountry,
	} {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, errCorruptRecord
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, errCorruptRecord
		}
		*field = string(raw)
	}

	if sess.GeoHasCoords {
		var latBits, lonBits uint64
		if err := binary.Read(reader, binary.BigEndian, &latBits); err != nil {
			return nil, errCorruptRecord
		}
		if err := binary.Read(reader, binary.BigEndian, &lonBits); err != nil {
			return nil, errCorruptRecord
		}
		sess.GeoLat = math.Float64frombits(latBits)
		sess.GeoLon = math.Float64frombits(lonBits)
	}

	return sess, nil
}
