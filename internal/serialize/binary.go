// binary.go — Magic-byte sniffing for binary bodies.
// Names the serialization of a binary payload in its placeholder so a capture
// still says something useful without carrying the bytes.
// Check order: MessagePack > CBOR > Protobuf > BSON (by specificity).
package serialize

// DetectFormat returns "messagepack", "cbor", "protobuf", "bson" or "" when the
// data is empty, looks like text, or matches no known format.
func DetectFormat(data []byte) string {
	if len(data) == 0 || looksLikeText(data) {
		return ""
	}
	for _, check := range formatChecks {
		if name := check(data); name != "" {
			return name
		}
	}
	return ""
}

var formatChecks = []func([]byte) string{detectMessagePack, detectCBOR, detectProtobuf, detectBSON}

// looksLikeText is true when more than 90% of bytes are printable ASCII or whitespace.
func looksLikeText(data []byte) bool {
	text := 0
	for _, b := range data {
		if (b >= 0x20 && b <= 0x7e) || b == '\n' || b == '\r' || b == '\t' {
			text++
		}
	}
	return float64(text)/float64(len(data)) > 0.9
}

// msgpackMinLen maps MessagePack marker bytes to the minimum total length they require.
var msgpackMinLen = map[byte]int{
	0xc0: 1, 0xc2: 1, 0xc3: 1,
	0xc4: 1, 0xc5: 1, 0xc6: 1, 0xc7: 1, 0xc8: 1, 0xc9: 1,
	0xca: 5, 0xcb: 9,
	0xcc: 2, 0xcd: 3, 0xce: 5, 0xcf: 9,
	0xd0: 2, 0xd1: 3, 0xd2: 5, 0xd3: 9,
	0xd4: 1, 0xd5: 1, 0xd6: 1, 0xd7: 1, 0xd8: 1,
	0xd9: 2, 0xda: 3, 0xdb: 5,
	0xdc: 3, 0xdd: 5, 0xde: 3, 0xdf: 5,
}

func detectMessagePack(data []byte) string {
	b := data[0]
	if b >= 0x80 && b <= 0xbf { // fixmap, fixarray, fixstr
		return "messagepack"
	}
	if n, ok := msgpackMinLen[b]; ok && len(data) >= n {
		return "messagepack"
	}
	return ""
}

// cborSimpleMinLen covers major type 7 markers (false, true, null, undefined, floats, break).
var cborSimpleMinLen = map[byte]int{
	0xf4: 1, 0xf5: 1, 0xf6: 1, 0xf7: 1,
	0xf9: 3, 0xfa: 5, 0xfb: 9, 0xff: 1,
}

func detectCBOR(data []byte) string {
	major, info := data[0]>>5, data[0]&0x1f
	switch major {
	case 4, 5: // array, map
		if info <= 0x17 || info == 0x1f {
			return "cbor"
		}
	case 6: // tagged
		return "cbor"
	case 7:
		if n, ok := cborSimpleMinLen[data[0]]; ok && len(data) >= n {
			return "cbor"
		}
	}
	return ""
}

func detectProtobuf(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	wire, field := data[0]&0x07, data[0]>>3
	if field == 0 || field > 15 {
		return ""
	}
	switch wire {
	case 0: // varint
		for i := 1; i < len(data) && i < 10; i++ {
			if data[i]&0x80 == 0 {
				return "protobuf"
			}
		}
		if len(data) < 10 {
			return "protobuf"
		}
	case 1: // fixed64
		if len(data) >= 9 {
			return "protobuf"
		}
	case 2: // length-delimited
		if data[1]&0x80 != 0 {
			return "protobuf"
		}
		if n := int(data[1]); n > 0 && len(data) >= 2+n {
			return "protobuf"
		}
	case 5: // fixed32
		if len(data) >= 5 {
			return "protobuf"
		}
	}
	return ""
}

func detectBSON(data []byte) string {
	if len(data) < 5 {
		return ""
	}
	docLen := int(data[0]) | int(data[1])<<8 | int(data[2])<<16 | int(data[3])<<24
	if docLen < 5 || docLen > 16*1024*1024 || docLen < len(data) {
		return ""
	}
	if len(data) >= docLen && data[docLen-1] != 0x00 {
		return ""
	}
	elem := data[4]
	if elem <= 0x13 || elem == 0x7f || elem == 0xff {
		return "bson"
	}
	return ""
}
